// Package orchestrator выполняет workflow.
//
// Orchestrator отвечает за:
//   - Валидацию шагов и поиск входного шага
//   - Обход графа шагов: текущий шаг, переходы onSuccess/onFailure
//   - Единый примитив выполнения шага (RunStep), которым пользуются
//     и движок, и шаги loop/parallelExecution
//   - Однократный retry и переход на fallback
//   - Ограничение общего числа выполнений шагов (граф может содержать циклы)
//   - Запись run и публикацию события о его завершении
//
// Каждый run владеет своим engine.Context; общих изменяемых данных
// между runs нет.
package orchestrator
