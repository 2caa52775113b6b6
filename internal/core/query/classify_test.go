package query

import "testing"

func TestClassify_SlashCommand(t *testing.T) {
	got := Classify("/compact", 3)
	if got.Class != ClassTrivial || got.Reason != "slash command" {
		t.Errorf("Classify(/compact) = %+v, want trivial/slash command", got)
	}
}

func TestClassify_SlashCommandWithArgs(t *testing.T) {
	got := Classify("/clear now please", 3)
	if got.Class != ClassTrivial || got.Reason != "slash command" {
		t.Errorf("Classify() = %+v, want trivial/slash command", got)
	}
}

func TestClassify_FilePathNotSlashCommand(t *testing.T) {
	// A path like /tmp/test.txt has more than one '/' so it isn't treated
	// as a slash command, but it's still short enough to be trivial.
	got := Classify("/tmp/test.txt", 3)
	if got.Class != ClassTrivial || got.Reason != "too short" {
		t.Errorf("Classify(/tmp/test.txt) = %+v, want trivial/too short", got)
	}
}

func TestClassify_FilePathLongEnough(t *testing.T) {
	got := Classify("please look at /tmp/test.txt and fix it", 3)
	if got.Class != ClassSearchable {
		t.Errorf("Classify() = %+v, want searchable", got)
	}
}

func TestClassify_ShortPrompt(t *testing.T) {
	got := Classify("fix it", 3)
	if got.Class != ClassTrivial || got.Reason != "too short" {
		t.Errorf("Classify(fix it) = %+v, want trivial/too short", got)
	}
}

func TestClassify_SearchablePrompt(t *testing.T) {
	got := Classify("how did we handle retry backoff in the worker pool", 3)
	if got.Class != ClassSearchable {
		t.Errorf("Classify() = %+v, want searchable", got)
	}
}

func TestClassify_WhitespaceOnly(t *testing.T) {
	got := Classify("   \t\n  ", 3)
	if got.Class != ClassTrivial || got.Reason != "too short" {
		t.Errorf("Classify(whitespace) = %+v, want trivial/too short", got)
	}
}

func TestClassify_Empty(t *testing.T) {
	got := Classify("", 3)
	if got.Class != ClassTrivial || got.Reason != "too short" {
		t.Errorf("Classify(empty) = %+v, want trivial/too short", got)
	}
}

func TestClassify_CJKPrompt(t *testing.T) {
	// Each CJK character is its own information unit, with no spaces.
	got := Classify("認証の再試行ロジックを直して", 3)
	if got.Class != ClassSearchable {
		t.Errorf("Classify(CJK) = %+v, want searchable", got)
	}
}

func TestClassify_ShortCJKPrompt(t *testing.T) {
	got := Classify("直す", 3)
	if got.Class != ClassTrivial || got.Reason != "too short" {
		t.Errorf("Classify(short CJK) = %+v, want trivial/too short", got)
	}
}

func TestClassify_KoreanPrompt(t *testing.T) {
	// Korean is space-delimited like Latin text, not logographic.
	got := Classify("재시도 로직을 고쳐 주세요", 3)
	if got.Class != ClassSearchable {
		t.Errorf("Classify(Korean) = %+v, want searchable", got)
	}
}

func TestClassify_MixedScript(t *testing.T) {
	got := Classify("fix the 認証 retry logic", 3)
	if got.Class != ClassSearchable {
		t.Errorf("Classify(mixed script) = %+v, want searchable", got)
	}
}

func TestCountInformationUnits_Latin(t *testing.T) {
	if got := countInformationUnits("fix the retry logic"); got != 4 {
		t.Errorf("countInformationUnits() = %d, want 4", got)
	}
}

func TestCountInformationUnits_CJK(t *testing.T) {
	if got := countInformationUnits("認証ロジック"); got != 6 {
		t.Errorf("countInformationUnits() = %d, want 6", got)
	}
}

func TestCountInformationUnits_Empty(t *testing.T) {
	if got := countInformationUnits(""); got != 0 {
		t.Errorf("countInformationUnits() = %d, want 0", got)
	}
}

func TestHasSlashCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"/help", true},
		{"/help me", true},
		{"no slash here", false},
		{"/tmp/test.txt", false},
		{"check /tmp/test.txt please", false},
		{"/", false},
	}
	for _, c := range cases {
		if got := hasSlashCommand(c.text); got != c.want {
			t.Errorf("hasSlashCommand(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
