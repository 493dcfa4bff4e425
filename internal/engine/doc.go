// Package engine содержит чистые (без I/O) части движка workflow:
//
//   - Context — состояние одного run (outputs шагов, данные входящего запроса)
//   - Resolve — подстановка плейсхолдеров {{a.b.c}} в конфигурацию шага
//   - BuildGraph — граф переходов между шагами (next / fallback / вложенные шаги)
//   - Validate — проверка набора шагов перед запуском
//
// Пакет не знает о типах шагов и хранилищах: выполнение живёт в orchestrator.
package engine
