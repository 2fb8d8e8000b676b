package conversation

import "testing"

func TestMessageLogAppendOrder(t *testing.T) {
	log := NewMessageLog()
	first, ok := NewMessage(SenderUser, "hello")
	if !ok {
		t.Fatalf("expected message to be created")
	}
	second, _ := NewMessage(SenderAssistant, "hi there")
	log.Append(first)
	log.Append(second)

	all := log.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}
	if all[0].Text != "hello" || all[1].Text != "hi there" {
		t.Fatalf("messages out of order: %+v", all)
	}
	if all[0].ID == all[1].ID {
		t.Fatalf("message IDs must be unique")
	}
}

func TestNewMessageRejectsBlankText(t *testing.T) {
	if _, ok := NewMessage(SenderUser, "   "); ok {
		t.Fatalf("blank text must not produce a message")
	}
}

func TestMessageLogAllReturnsCopy(t *testing.T) {
	log := NewMessageLog()
	m, _ := NewMessage(SenderSystem, "welcome")
	log.Append(m)

	snapshot := log.All()
	snapshot[0].Text = "tampered"
	if log.All()[0].Text != "welcome" {
		t.Fatalf("All must return a copy, not the backing slice")
	}
}

func TestMessageLogClear(t *testing.T) {
	log := NewMessageLog()
	m, _ := NewMessage(SenderUser, "bye")
	log.Append(m)
	log.Clear()
	if log.Len() != 0 {
		t.Fatalf("expected empty log after clear")
	}
}

func TestSessionVolumeClamped(t *testing.T) {
	s := NewSession(1)
	s.SetVolume(2.5)
	if got := s.Prefs().Volume; got != 1 {
		t.Fatalf("expected volume clamped to 1, got %v", got)
	}
	s.SetVolume(-0.3)
	if got := s.Prefs().Volume; got != 0 {
		t.Fatalf("expected volume clamped to 0, got %v", got)
	}
}

func TestSessionScheduleIgnoredAfterEnd(t *testing.T) {
	s := NewSession(1)
	s.SetStatus(StatusEnded)
	fired := make(chan struct{}, 1)
	s.Schedule("auto_listen", 0, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatalf("ended session must not run scheduled tasks")
	default:
	}
}
