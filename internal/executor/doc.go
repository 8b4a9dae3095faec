// Package executor доводит забранные runs до терминального состояния.
//
// Два входа:
//
//   - ExecuteRun — выполнение плана публикации против Tool API.
//     Режим single делает один вызов create-page; режим bulk ставит
//     job и опрашивает его статус с фиксированным интервалом до
//     лимита попыток. Ошибки выполнения не пробрасываются: run
//     получает терминальный статус и код ошибки, цикл Worker'а
//     продолжает жить.
//
//   - RollbackRun — применение компенсирующих действий одним вызовом
//     rollback/apply. В отличие от ExecuteRun, ошибка самого вызова
//     пробрасывается: откат запускается синхронно по запросу человека.
//
// Каждый значимый переход фиксируется событием в аудит-логе run, так
// что историю выполнения можно восстановить целиком из run_events.
package executor
