package main

import (
	"testing"

	"github.com/pagesnap/pagesnap/capture"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest(true, "")
	if err != nil {
		t.Fatal(err)
	}
	if req.Mode() != "full_page" {
		t.Fatalf("mode: got %q", req.Mode())
	}

	req, err = buildRequest(false, "10, 20, 300, 400")
	if err != nil {
		t.Fatal(err)
	}
	ar, ok := req.(capture.AreaRequest)
	if !ok {
		t.Fatalf("type: got %T", req)
	}
	if ar.Rect.X != 10 || ar.Rect.Y != 20 || ar.Rect.W != 300 || ar.Rect.H != 400 {
		t.Fatalf("rect: got %+v", ar.Rect)
	}
}

func TestBuildRequest_Rejections(t *testing.T) {
	cases := []struct {
		name string
		full bool
		area string
	}{
		{"nothing selected", false, ""},
		{"too few fields", false, "1,2,3"},
		{"not a number", false, "1,2,3,x"},
		{"zero size", false, "0,0,0,100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := buildRequest(tc.full, tc.area); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
