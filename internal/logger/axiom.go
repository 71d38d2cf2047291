package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
)

const (
    shipBuffer = 1000
    shipBatch  = 200
)

// shipper is a zerolog writer that batches events to one Axiom dataset.
type shipper struct {
    send    func(ctx context.Context, events []axiom.Event) error
    service string
    ch      chan axiom.Event
    dropped atomic.Int64
    stop    chan struct{}
    done    chan struct{}
    once    sync.Once
}

func newAxiomShipper(token, orgID, dataset, service string, every time.Duration) (*shipper, error) {
    if dataset == "" { dataset = "dev_pagesort" }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    send := func(ctx context.Context, events []axiom.Event) error {
        _, err := c.IngestEvents(ctx, dataset, events)
        return err
    }
    return startShipper(send, service, every), nil
}

func startShipper(send func(context.Context, []axiom.Event) error, service string, every time.Duration) *shipper {
    if every <= 0 { every = 10 * time.Second }
    s := &shipper{
        send:    send,
        service: service,
        ch:      make(chan axiom.Event, shipBuffer),
        stop:    make(chan struct{}),
        done:    make(chan struct{}),
    }
    go s.loop(every)
    return s
}

// Write takes one zerolog JSON line. It never blocks; a full buffer drops the event.
func (s *shipper) Write(p []byte) (int, error) {
    ev, ok := shapeEvent(p, s.service)
    if !ok { return len(p), nil }
    select {
    case s.ch <- ev:
    default:
        s.dropped.Add(1)
    }
    return len(p), nil
}

func (s *shipper) loop(every time.Duration) {
    defer close(s.done)
    ticker := time.NewTicker(every)
    defer ticker.Stop()

    batch := make([]axiom.Event, 0, shipBatch)
    flush := func() {
        if len(batch) == 0 { return }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        if err := s.send(ctx, batch); err != nil {
            fmt.Fprintf(os.Stderr, "axiom ingest failed for %d events: %v\n", len(batch), err)
        }
        cancel()
        batch = batch[:0]
    }
    add := func(ev axiom.Event) {
        batch = append(batch, ev)
        if len(batch) >= shipBatch { flush() }
    }

    for {
        select {
        case <-ticker.C:
            flush()
        case ev := <-s.ch:
            add(ev)
        case <-s.stop:
            for {
                select {
                case ev := <-s.ch:
                    add(ev)
                default:
                    flush()
                    return
                }
            }
        }
    }
}

// Close drains the queue, sends the last batch and returns the number of
// events dropped over the shipper's lifetime.
func (s *shipper) Close() int64 {
    s.once.Do(func() { close(s.stop) })
    <-s.done
    return s.dropped.Load()
}

// shapeEvent turns one zerolog line into an Axiom event. Debug and trace
// lines are dropped. The line's own timestamp becomes _time, and lines that
// are not JSON are shipped as info messages.
func shapeEvent(p []byte, service string) (axiom.Event, bool) {
    var ev map[string]any
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = map[string]any{
            zerolog.MessageFieldName: strings.TrimSpace(string(p)),
            zerolog.LevelFieldName:   zerolog.LevelInfoValue,
        }
    }
    switch lvl, _ := ev[zerolog.LevelFieldName].(string); lvl {
    case zerolog.LevelDebugValue, zerolog.LevelTraceValue:
        return nil, false
    }
    if _, ok := ev["service"]; !ok && service != "" { ev["service"] = service }

    ts := time.Now()
    if raw, ok := ev[zerolog.TimestampFieldName].(string); ok {
        if t, err := time.Parse(zerolog.TimeFieldFormat, raw); err == nil {
            ts = t
            delete(ev, zerolog.TimestampFieldName)
        }
    }
    ev[ingest.TimestampField] = ts
    return axiom.Event(ev), true
}
