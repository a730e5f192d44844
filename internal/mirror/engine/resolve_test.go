package engine

import "testing"

func conflictFor(key string) ConflictRecord {
	return ConflictRecord{
		Src: ChangeRecord{Key: key, Origin: OriginSrc, Op: OpUpdate, Fingerprint: "src-fp"},
		Dst: ChangeRecord{Key: key, Origin: OriginDst, Op: OpUpdate, Fingerprint: "dst-fp"},
	}
}

func TestResolveTieFavorsSrc(t *testing.T) {
	r := newResolver()

	winner := r.Resolve(conflictFor("i:1"))
	if winner.Origin != OriginSrc {
		t.Errorf("expected src to win with no version history, got %s", winner.Origin)
	}
}

func TestResolveHigherVersionWins(t *testing.T) {
	r := newResolver()

	r.Applied(OriginDst, "i:1")
	if winner := r.Resolve(conflictFor("i:1")); winner.Origin != OriginDst {
		t.Errorf("expected dst with higher version to win, got %s", winner.Origin)
	}

	r.Applied(OriginSrc, "i:1")
	r.Applied(OriginSrc, "i:1")
	if winner := r.Resolve(conflictFor("i:1")); winner.Origin != OriginSrc {
		t.Errorf("expected src after two applies to win, got %s", winner.Origin)
	}
}

func TestResolveVersionsArePerRow(t *testing.T) {
	r := newResolver()

	r.Applied(OriginDst, "i:1")
	if winner := r.Resolve(conflictFor("i:2")); winner.Origin != OriginSrc {
		t.Errorf("version for another row leaked into resolution, winner %s", winner.Origin)
	}
}

func TestForgetClearsVersions(t *testing.T) {
	r := newResolver()

	r.Applied(OriginDst, "i:1")
	r.Forget("i:1")
	if winner := r.Resolve(conflictFor("i:1")); winner.Origin != OriginSrc {
		t.Errorf("expected clean slate after Forget, winner %s", winner.Origin)
	}
}
