package main

import "testing"

func TestParseImage(t *testing.T) {
	cases := []struct {
		image    string
		wantRepo string
		wantTag  string
		wantErr  bool
	}{
		{"app", "app", "", false},
		{"org/app", "org/app", "", false},
		{"app:v1", "app", "v1", false},
		{"org/app:v1", "org/app", "v1", false},
		{"", "", "", true},
		{"app:", "", "", true},
		{":v1", "", "", true},
		{"app:v1:extra", "", "", true},
	}

	for _, c := range cases {
		repo, tag, err := parseImage(c.image)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseImage(%q): expected error, got none", c.image)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseImage(%q): unexpected error: %v", c.image, err)
			continue
		}
		if repo != c.wantRepo || tag != c.wantTag {
			t.Errorf("parseImage(%q) = (%q, %q), want (%q, %q)", c.image, repo, tag, c.wantRepo, c.wantTag)
		}
	}
}
