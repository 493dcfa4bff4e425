// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// Две группы команд:
//   - локальные: validate и run -f проверяют и выполняют файл workflow
//     без сервера, на in-memory хранилище документов
//   - клиентские: endpoint, workflow, run list/show и call работают
//     через HTTP API сервиса conveyor-api
//
// # Файл workflow
//
// YAML с полями name и steps; поля шага: id, name, type, config,
// depends_on, on_success, on_failure, is_active (по умолчанию true).
//
//	conveyor validate -f greet.yaml
//	conveyor run -f greet.yaml --body '{"name":"ann"}' --json
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor run list --json | jq .
//
// ## Commands
//
// Каждая группа создаётся через фабричную функцию (NewWorkflowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
