// Package steps содержит обработчики типов шагов workflow.
//
// # Обзор
//
// Каждый обработчик:
//   - Получает конфигурацию шага, уже разрешённую через engine.ResolveConfig
//   - Выполняет действие (HTTP запрос, запрос к коллекции, задержка, ...)
//   - Возвращает Output, доступный следующим шагам как {{outputs.<stepId>}}
//
// Ошибка обработчика не выходит за границу шага: движок превращает её
// в неуспешный результат и применяет onFailure (retry, fallback).
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() domain.StepType
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Request содержит:
//   - StepID — идентификатор шага
//   - Config — разрешённая конфигурация
//   - Context — состояние run (outputs, тело запроса, переменные цикла)
//   - Runner — выполнение вложенных шагов (loop, parallelExecution)
//   - Timeout — таймаут выполнения
//
// Response содержит Output и, для condition, NextStepID.
//
// # Registry
//
//	registry := steps.DefaultRegistry(steps.Dependencies{
//	    Models:   schemaBuilder,
//	    Notifier: publisher,
//	    Files:    blobStore,
//	})
//	step, err := registry.Get(domain.StepTypeAPICall)
//
// Шаги dbOperation, notification и fileOperation регистрируются только
// при наличии соответствующей зависимости.
//
// # Типы шагов
//
//   - apiCall — HTTP запрос, ответ {status, headers, data}
//   - condition — выбор onTrue/onFalse по дереву операторов
//   - transformation — map, format, combine над inputValues
//   - loop — вложенные шаги для каждого значения, на копии контекста
//   - parallelExecution — вложенные шаги конкурентно, ожидание всех
//   - delay — пауза на duration миллисекунд
//   - dbOperation — запрос к динамической коллекции через пакет query
//   - notification — email или SMS через Notifier
//   - fileOperation — read, write, delete через FileStore
//
// Пользовательские выражения (condition цикла, mapFunction, filterCondition,
// reducer) записываются на Lua и выполняются в песочнице LuaEnv.
//
// # Файлы пакета
//
//   - step.go           — интерфейсы Step и Runner, Request, Response, ошибки
//   - registry.go       — Registry
//   - values.go         — приведение и сравнение значений
//   - lua.go            — LuaEnv
//   - apicall.go        — APICallStep
//   - condition.go      — ConditionStep и Evaluate
//   - transformation.go — TransformationStep
//   - format.go         — методы форматирования
//   - loop.go           — LoopStep
//   - parallel.go       — ParallelStep
//   - delay.go          — DelayStep
//   - dboperation.go    — DBOperationStep, ModelResolver
//   - notification.go   — NotificationStep, Notifier
//   - fileoperation.go  — FileOperationStep, FileStore
package steps
