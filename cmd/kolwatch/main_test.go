package main

import (
	"testing"

	"github.com/kolwatch/kolwatch/internal/config"
)

func TestApplyTierLimit(t *testing.T) {
	s := config.SchedulerConfig{HighLimit: 50, MediumLimit: 200, LowLimit: 300}

	applyTierLimit(&s, 0)
	if s.HighLimit != 50 || s.MediumLimit != 200 || s.LowLimit != 300 {
		t.Errorf("unset flag must keep configured caps: %+v", s)
	}

	applyTierLimit(&s, 10)
	if s.HighLimit != 10 || s.MediumLimit != 10 || s.LowLimit != 10 {
		t.Errorf("expected every cap overridden to 10: %+v", s)
	}
}

func TestNeedsModels(t *testing.T) {
	tests := map[string]bool{
		"high_freq":           false,
		"full_crawl":          false,
		"scavenger":           false,
		"user_profiling":      false,
		"user_analysis":       true,
		"post_insights":       true,
		"intelligence_report": true,
		"kol_report":          true,
		"full_analysis":       true,
	}

	for task, expected := range tests {
		if got := needsModels(task); got != expected {
			t.Errorf("needsModels(%q) = %v, want %v", task, got, expected)
		}
	}
}

func TestSplitTags(t *testing.T) {
	if tags := splitTags(""); tags != nil {
		t.Errorf("expected nil for empty input, got %v", tags)
	}

	tags := splitTags("生活感悟, 时事评论 ,")
	if len(tags) != 2 || tags[0] != "生活感悟" || tags[1] != "时事评论" {
		t.Errorf("unexpected tags: %v", tags)
	}
}
