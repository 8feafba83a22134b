package runtime

import "testing"

func TestDetectFromFilename(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name   string
		want   Language
		wantOK bool
	}{
		{"main.py", Python, true},
		{"tool.PYW", Python, true},
		{"app.js", JavaScript, true},
		{"module.mjs", JavaScript, true},
		{"Main.java", Java, true},
		{"solver.cc", Cpp, true},
		{"/src/dir/code.cpp", Cpp, true},
		{"main.go", Go, true},
		{"build.sh", Bash, true},
		{"README.md", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.DetectFromFilename(tt.name)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DetectFromFilename(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDetectFromContent(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name    string
		content string
		want    Language
		wantOK  bool
	}{
		{"python", "import sys\n\ndef main():\n    print('hi')\n", Python, true},
		{"javascript", "const x = 1;\nlet y = 2;\nconsole.log(x + y);\n", JavaScript, true},
		{"java", "import java.util.List;\npublic class Main {\n  public static void main(String[] a) {\n    System.out.println(1);\n  }\n}\n", Java, true},
		{"cpp", "#include <iostream>\nusing namespace std;\nint main() {\n  cout << 1;\n}\n", Cpp, true},
		{"go", "package main\n\nimport (\n\t\"fmt\"\n)\n\nfunc main() {\n\tfmt.Println(1)\n}\n", Go, true},
		{"shell", "#!/bin/sh\necho hi\nif [ -n \"$X\" ]; then\n  echo x\nfi\n", Bash, true},
		{"prose", "The quick brown fox.", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.DetectFromContent(tt.content)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DetectFromContent() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDetectFromContent_OnlyFirstLines(t *testing.T) {
	content := ""
	for i := 0; i < 12; i++ {
		content += "...\n"
	}
	content += "def late():\n    print(1)\n"
	if _, ok := NewRegistry().DetectFromContent(content); ok {
		t.Error("patterns beyond the first 10 lines should not count")
	}
}
