// control/control_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"sync"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	mr := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mr.Inc(MetricPDUsIn)
			}
		}()
	}
	wg.Wait()
	if got := mr.Counter(MetricPDUsIn); got != 800 {
		t.Fatalf("counter = %d, want 800", got)
	}
	mr.Add(MetricConnectionsActive, -1)
	mr.Set("listen", "127.0.0.1:135")

	snap := mr.GetSnapshot()
	if snap[MetricPDUsIn] != int64(800) || snap[MetricConnectionsActive] != int64(-1) || snap["listen"] != "127.0.0.1:135" {
		t.Fatalf("snapshot = %v", snap)
	}

	var nilRegistry *MetricsRegistry
	if nilRegistry.Inc(MetricFaults) != 0 || nilRegistry.Counter(MetricFaults) != 0 {
		t.Fatal("nil registry must discard updates")
	}
}

func TestConfigStoreReportsChangedKeys(t *testing.T) {
	cs := NewConfigStore()
	var seen []map[string]any
	cs.OnReload(func(changed map[string]any) { seen = append(seen, changed) })

	cs.SetConfig(map[string]any{"log_level": "info", "max_threads": 4})
	cs.SetConfig(map[string]any{"log_level": "info"})
	cs.SetConfig(map[string]any{"log_level": "debug"})

	if len(seen) != 2 {
		t.Fatalf("listener called %d times, want 2", len(seen))
	}
	if _, ok := seen[1]["max_threads"]; ok || seen[1]["log_level"] != "debug" {
		t.Fatalf("second change = %v", seen[1])
	}
	if v, ok := cs.Get("max_threads"); !ok || v != 4 {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	if cs.Int("max_threads", 0) != 4 || cs.String("log_level", "") != "debug" {
		t.Fatalf("typed getters = %d, %q", cs.Int("max_threads", 0), cs.String("log_level", ""))
	}
	if cs.Int("log_level", 7) != 7 || cs.String("missing", "x") != "x" {
		t.Fatal("typed getters must fall back to the default")
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("threads", func() any { return 3 })
	dp.RegisterProbe("nested", func() any {
		dp.RegisterProbe("late", func() any { return true })
		return "ok"
	})
	state := dp.DumpState()
	if state["threads"] != 3 || state["nested"] != "ok" {
		t.Fatalf("DumpState = %v", state)
	}
	if names := dp.Names(); len(names) != 3 || names[0] != "late" || names[2] != "threads" {
		t.Fatalf("Names = %v", names)
	}

	dp.RegisterProbe("broken", func() any { panic("boom") })
	if _, ok := dp.DumpState()["broken"].(error); !ok {
		t.Fatal("panicking probe must report an error")
	}
	dp.RegisterProbe("broken", nil)
	if _, ok := dp.DumpState()["broken"]; ok {
		t.Fatal("nil probe must unregister")
	}
}

func TestPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	if n, ok := state["platform.cpus"].(int); !ok || n < 1 {
		t.Fatalf("platform.cpus = %v", state["platform.cpus"])
	}
}
