package jsonfix

import (
	"errors"
	"testing"
)

func TestParse_Stages(t *testing.T) {
	tests := []struct {
		name  string
		input string
		stage Stage
	}{
		{"valid document", `{"order_flag": 1}`, StageStrict},
		{"smart quotes", "{“order_flag”: “1”}", StageCleaned},
		{"byte order mark", "\uFEFF{\"order_flag\": 2}", StageCleaned},
		{"trailing comma", `{"order_flag": 1,}`, StageStructural},
		{"line comment", "{\n  // first shot\n  \"order_flag\": 1\n}", StageStructural},
		{"block comment", `{"order_flag": /* hero */ 1}`, StageStructural},
		{"unquoted keys", `{order_flag: 1, orientation: 'square'}`, StageRelaxed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse([]byte(tt.input))
			if res.Err != nil {
				t.Fatalf("Expected no error, got %v", res.Err)
			}
			if res.Stage != tt.stage {
				t.Errorf("Expected stage %q, got %q", tt.stage, res.Stage)
			}
		})
	}
}

func TestParse_SmartQuotesAndTrailingComma(t *testing.T) {
	input := "{“order_flag”: “1”, “category”: “Signs”,}"

	res := Parse([]byte(input))
	if res.Err != nil {
		t.Fatalf("Expected no error, got %v", res.Err)
	}

	var doc struct {
		OrderFlag string `json:"order_flag"`
	}
	if err := res.Decode(&doc); err != nil {
		t.Fatalf("Expected decodable value, got %v", err)
	}
	if doc.OrderFlag != "1" {
		t.Errorf("Expected order_flag %q, got %q", "1", doc.OrderFlag)
	}
}

func TestParse_Unparseable(t *testing.T) {
	res := Parse([]byte(`{"order_flag": `))
	if res.Err == nil {
		t.Fatal("Expected error for truncated document")
	}
	if !errors.Is(res.Err, ErrUnparseable) {
		t.Errorf("Expected ErrUnparseable, got %v", res.Err)
	}
	if res.Stage != StageFailed {
		t.Errorf("Expected stage %q, got %q", StageFailed, res.Stage)
	}
	if res.OK() {
		t.Error("Expected OK to be false")
	}
}

func TestClean_ExoticSpacesAndPrimes(t *testing.T) {
	input := "{\"size\": \"6’ x 4”\"}"

	got := string(Clean([]byte(input)))
	want := "{\"size\": \"6′ x 4″\"}"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestClean_TrimsStringValues(t *testing.T) {
	got := string(Clean([]byte(`{"title": "  Harbour at dusk  "}`)))
	want := `{"title": "Harbour at dusk"}`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestClean_EscapesInnerQuotes(t *testing.T) {
	input := `{"title": "The "Long" Exposure", "order_flag": "2"}`

	res := Parse([]byte(input))
	if res.Err != nil {
		t.Fatalf("Expected no error, got %v", res.Err)
	}
	var doc struct {
		Title     string `json:"title"`
		OrderFlag string `json:"order_flag"`
	}
	if err := res.Decode(&doc); err != nil {
		t.Fatalf("Expected decodable value, got %v", err)
	}
	if doc.Title != `The "Long" Exposure` {
		t.Errorf("Expected title with inner quotes, got %q", doc.Title)
	}
	if doc.OrderFlag != "2" {
		t.Errorf("Expected order_flag %q, got %q", "2", doc.OrderFlag)
	}
}

func TestStructural_KeepsURLs(t *testing.T) {
	input := `{"linked_image": "https://example.com/a.jpg",}`

	got := string(Structural([]byte(input)))
	want := `{"linked_image": "https://example.com/a.jpg"}`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRelaxed_ReencodesStrictJSON(t *testing.T) {
	out, err := Relaxed([]byte(`{project: 'Coastline', order_flag: 3}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, ok := Strict(out); !ok {
		t.Errorf("Expected strict JSON output, got %s", out)
	}
}
