package main

import "testing"

func TestAudioFormat(t *testing.T) {
	cases := map[string]string{
		"sample.wav": "wav",
		"sample.MP3": "mp3",
		"sample.m4a": "mov",
		"sample":     "wav",
		"dir/a.flac": "flac",
	}
	for path, want := range cases {
		if got := audioFormat(path); got != want {
			t.Fatalf("%s: expected %q, got %q", path, want, got)
		}
	}
}

func TestPrintingListenerJoinsUtterances(t *testing.T) {
	l := newPrintingListener()
	l.OnResult("t1")
	l.OnResult("  ")
	l.OnResult("t2")
	l.OnEnd()
	l.OnEnd()

	if got := l.draft(); got != "t1 t2" {
		t.Fatalf("expected %q, got %q", "t1 t2", got)
	}
	select {
	case <-l.ended:
	default:
		t.Fatal("expected ended to be closed")
	}
}
