package cascade

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"plain", errors.New("boom"), KindNetwork},
		{"sentinel", fmt.Errorf("decode: %w", ErrDataFormat), KindDataFormat},
		{"classified", NewError(KindAuthExpired, StageVenue, errors.New("401")), KindAuthExpired},
		{"wrapped classified", fmt.Errorf("fetch: %w", NewError(KindEmptyResult, StageItem, nil)), KindEmptyResult},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestError_MatchesKindSentinel(t *testing.T) {
	cause := errors.New("unexpected token")
	err := fmt.Errorf("wrap: %w", NewError(KindDataFormat, StageDate, cause))
	if !errors.Is(err, ErrDataFormat) {
		t.Fatal("expected ErrDataFormat")
	}
	if errors.Is(err, ErrNetwork) {
		t.Fatal("did not expect ErrNetwork")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to stay reachable")
	}
}

func TestStageError_RestampsStage(t *testing.T) {
	direct := NewError(KindNetwork, StageCity, errors.New("reset"))
	got := stageError(StageSession, direct)
	if got.Stage != StageSession || got.Kind != KindNetwork {
		t.Fatalf("unexpected error: %+v", got)
	}
	if direct.Stage != StageCity {
		t.Fatal("expected the original error to stay untouched")
	}
	if got.Error() != "session: network: reset" {
		t.Fatalf("unexpected message %q", got.Error())
	}
}

func TestParseStage(t *testing.T) {
	for _, stage := range Stages() {
		got, err := ParseStage(" " + stage.String() + " ")
		if err != nil || got != stage {
			t.Fatalf("parse %s: got %s, %v", stage, got, err)
		}
	}
	if _, err := ParseStage("theater"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
	if _, ok := StageSeatMap.Next(); ok {
		t.Fatal("seat map has no successor")
	}
}
