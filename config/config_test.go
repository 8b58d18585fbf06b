package config

import "testing"

func TestQuizQuestionCountClamp(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultQuizQuestions},
		{3, MinQuizQuestions},
		{7, 7},
		{50, MaxQuizQuestions},
	}
	for _, tc := range cases {
		p := PipelineConfig{QuizQuestions: tc.in}
		if got := p.QuizQuestionCount(); got != tc.want {
			t.Fatalf("QuizQuestionCount(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFlashcardsPerTopicCountClamp(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultFlashcardsTopic},
		{1, MinFlashcardsPerTopic},
		{6, 6},
		{20, MaxFlashcardsPerTopic},
	}
	for _, tc := range cases {
		p := PipelineConfig{FlashcardsPerTopic: tc.in}
		if got := p.FlashcardsPerTopicCount(); got != tc.want {
			t.Fatalf("FlashcardsPerTopicCount(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "studyforge"}
	want := "postgres://u:p@db:5432/studyforge?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}

	p.URL = "postgres://explicit"
	if got := p.DSN(); got != "postgres://explicit" {
		t.Fatalf("explicit url must win, got %q", got)
	}
}

func TestPostgresValidate(t *testing.T) {
	if err := (PostgresConfig{}).Validate(); err == nil {
		t.Fatalf("empty config must fail validation")
	}
	if err := (PostgresConfig{URL: "postgres://x"}).Validate(); err != nil {
		t.Fatalf("url-only config must validate: %v", err)
	}
	if err := (PostgresConfig{Host: "db", DBName: "studyforge"}).Validate(); err != nil {
		t.Fatalf("host+dbname must validate: %v", err)
	}
}
