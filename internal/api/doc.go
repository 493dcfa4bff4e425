// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, исполнитель, кэш, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery, metrics)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - execute_handler.go  — запуск workflow через пользовательский endpoint
//   - workflow_handler.go — /workflows и их шаги
//   - endpoint_handler.go — /endpoints
//   - metadata_handler.go — /metadata (динамические схемы)
//   - run_handler.go      — история /runs
//
// Маршрут /api/v1/execute/{version}/{path...} находит активный endpoint
// проекта по пути, методу и версии, выполняет его активный workflow
// и возвращает outputs шагов.
package api
