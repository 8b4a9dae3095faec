// Package worker содержит единственный фоновый цикл процесса.
//
// Worker по таймеру опрашивает хранилище: атомарно забирает самый
// старый queued run (при нескольких экземплярах процесса гонку решает
// FOR UPDATE SKIP LOCKED на стороне Postgres), пишет run_leased и
// отдаёт run исполнителю. За один тик очередь вычерпывается до дна.
//
// Цикл обязан жить вечно: ошибка или паника исполнителя логируется
// и не останавливает следующие тики. Перекрытия тиков исключены
// атомарным флагом занятости.
package worker
