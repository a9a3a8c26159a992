package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vietddude/syncd/internal/core/config"
	"github.com/vietddude/syncd/internal/core/domain"
)

// matchesFilters reports whether a record passes every configured
// filter. A filter with an unknown operator is logged and skipped
// rather than failing the run.
func matchesFilters(rec *domain.Record, filters []config.FilterSpec, log *slog.Logger) bool {
	for _, f := range filters {
		value, present := rec.Fields[f.Field]

		switch f.Op {
		case "exists":
			if !present {
				return false
			}
		case "eq":
			if !present || fmt.Sprintf("%v", value) != fmt.Sprintf("%v", f.Value) {
				return false
			}
		case "neq":
			if present && fmt.Sprintf("%v", value) == fmt.Sprintf("%v", f.Value) {
				return false
			}
		case "contains":
			s, ok := value.(string)
			want, wok := f.Value.(string)
			if !present || !ok || !wok || !strings.Contains(s, want) {
				return false
			}
		case "in":
			if !present || !valueIn(value, f.Value) {
				return false
			}
		default:
			log.Warn("unknown filter operator, skipping filter", "op", f.Op, "field", f.Field)
		}
	}
	return true
}

func valueIn(value, allowed any) bool {
	got := fmt.Sprintf("%v", value)
	switch list := allowed.(type) {
	case []any:
		for _, item := range list {
			if fmt.Sprintf("%v", item) == got {
				return true
			}
		}
	case []string:
		for _, item := range list {
			if item == got {
				return true
			}
		}
	}
	return false
}
