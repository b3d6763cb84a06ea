package rt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	r := New(nil)
	release := make(chan struct{})
	for range 2 {
		r.Go(func(ctx context.Context) { <-release })
	}

	c := NewCollector("test", r)
	want := `
# HELP test_rt_tasks_active Tasks currently running on the runtime.
# TYPE test_rt_tasks_active gauge
test_rt_tasks_active 2
# HELP test_rt_tasks_spawned_total Tasks started on the runtime.
# TYPE test_rt_tasks_spawned_total counter
test_rt_tasks_spawned_total 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want)); err != nil {
		t.Fatal(err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Active != 0 {
		if time.Now().After(deadline) {
			t.Fatal("tasks did not finish")
		}
		time.Sleep(time.Millisecond)
	}
	if got := testutil.CollectAndCount(c); got != 2 {
		t.Errorf("CollectAndCount = %d, want 2", got)
	}
}
