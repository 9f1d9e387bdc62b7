package config

import "testing"

func TestDefaultSnapshotValidates(t *testing.T) {
	s := DefaultSnapshot("/tmp/bilisync")
	if err := s.Validate(); err != nil {
		t.Fatalf("default snapshot must validate: %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"empty config dir", func(s *Snapshot) { s.ConfigDir = "" }},
		{"zero global http", func(s *Snapshot) { s.Concurrency.GlobalHTTP = 0 }},
		{"zero pages per video", func(s *Snapshot) { s.Concurrency.PagesPerVideo = 0 }},
		{"max retry below 7", func(s *Snapshot) { s.MaxRetry = 3 }},
		{"zero chunk size", func(s *Snapshot) { s.ChunkSizeBytes = 0 }},
		{"zero cooldown", func(s *Snapshot) { s.RiskControlCooldownSeconds = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := DefaultSnapshot("/tmp/bilisync")
			c.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", c.name)
			}
		})
	}
}
