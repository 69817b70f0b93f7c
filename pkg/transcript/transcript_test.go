package transcript

import (
	"testing"
	"time"
)

func TestAggregator_MergesFinalIntoOpenTurn(t *testing.T) {
	a := NewAggregator()

	a.Append(SpeakerUser, "I go", false)
	a.Append(SpeakerUser, "store", true)

	turns := a.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Text != "I go store" {
		t.Errorf("expected %q, got %q", "I go store", turns[0].Text)
	}
	if !turns[0].Final {
		t.Error("turn should be final")
	}
	if turns[0].Speaker != SpeakerUser {
		t.Errorf("expected user turn, got %s", turns[0].Speaker)
	}
}

func TestAggregator(t *testing.T) {
	type frag struct {
		speaker Speaker
		text    string
		final   bool
	}

	tests := []struct {
		name  string
		frags []frag
		want  []Turn
	}{
		{
			name:  "empty fragment is ignored",
			frags: []frag{{SpeakerUser, "   ", false}},
			want:  nil,
		},
		{
			name:  "partial into open turn is dropped",
			frags: []frag{{SpeakerAgent, "Hello", false}, {SpeakerAgent, "there", false}},
			want:  []Turn{{Speaker: SpeakerAgent, Text: "Hello"}},
		},
		{
			name: "speaker change starts a new turn",
			frags: []frag{
				{SpeakerUser, "hi", false},
				{SpeakerAgent, "hello", false},
				{SpeakerUser, "how are you", true},
			},
			want: []Turn{
				{Speaker: SpeakerUser, Text: "hi"},
				{Speaker: SpeakerAgent, Text: "hello"},
				{Speaker: SpeakerUser, Text: "how are you", Final: true},
			},
		},
		{
			name:  "same speaker after final starts a new turn",
			frags: []frag{{SpeakerAgent, "One.", true}, {SpeakerAgent, "Two.", false}},
			want: []Turn{
				{Speaker: SpeakerAgent, Text: "One.", Final: true},
				{Speaker: SpeakerAgent, Text: "Two."},
			},
		},
		{
			name:  "empty final only closes the turn",
			frags: []frag{{SpeakerAgent, "Hola", false}, {SpeakerAgent, "", true}},
			want:  []Turn{{Speaker: SpeakerAgent, Text: "Hola", Final: true}},
		},
		{
			name:  "empty final with no open turn is ignored",
			frags: []frag{{SpeakerAgent, "", true}},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator()
			for _, f := range tt.frags {
				a.Append(f.speaker, f.text, f.final)
			}

			got := a.Turns()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d turns, got %d (%+v)", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i].Speaker != tt.want[i].Speaker || got[i].Text != tt.want[i].Text || got[i].Final != tt.want[i].Final {
					t.Errorf("turn %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAggregator_ReportsChanges(t *testing.T) {
	a := NewAggregator()

	if !a.Append(SpeakerUser, "hi", false) {
		t.Error("new turn should report a change")
	}
	if a.Append(SpeakerUser, "there", false) {
		t.Error("dropped partial should not report a change")
	}
	if !a.Add(Fragment{Speaker: SpeakerUser, Text: "there", Final: true}) {
		t.Error("finalizing should report a change")
	}
}

func TestAggregator_Timestamps(t *testing.T) {
	a := NewAggregator()
	at := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return at }

	a.Append(SpeakerAgent, "Hi!", false)

	last, ok := a.Last()
	if !ok {
		t.Fatal("expected a turn")
	}
	if !last.Timestamp.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, last.Timestamp)
	}
}

func TestAggregator_TurnsIsACopy(t *testing.T) {
	a := NewAggregator()
	a.Append(SpeakerUser, "hello", false)

	turns := a.Turns()
	turns[0].Text = "changed"

	if last, _ := a.Last(); last.Text != "hello" {
		t.Error("Turns should return a copy")
	}
	if a.Len() != 1 {
		t.Errorf("expected 1 turn, got %d", a.Len())
	}
}
