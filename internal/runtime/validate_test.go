package runtime

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name       string
		lang       Language
		code       string
		wantOK     bool
		wantIssues int
		wantMsg    string
		wantLine   int
	}{
		{"empty", Python, "", false, 1, "Code cannot be empty", 0},
		{"whitespace only", Python, "  \n\t ", false, 1, "Code cannot be empty", 0},
		{"too large", Python, strings.Repeat("x", MaxCodeSize+1), false, 1, "Code is too large (max 100KB)", 0},
		{"python clean", Python, "print('hi')\n", true, 0, "", 0},
		{"python eval", Python, "x = 1\ny = eval('x')\n", false, 1, "eval() function is dangerous and not allowed", 2},
		{"python exec case-insensitive", Python, "\n\nEXEC('x')", false, 1, "exec() function is dangerous and not allowed", 3},
		{"javascript eval", JavaScript, "eval('1+1')", false, 1, "eval() function is dangerous and not allowed", 1},
		{
			"java without Main", Java,
			"public class Hello {\n  public static void main(String[] a) {}\n}\n",
			false, 2, "", 0,
		},
		{
			"java main", Java,
			"public class Main {\n  public static void main(String[] a) {\n    System.out.println(1);\n  }\n}\n",
			true, 0, "", 0,
		},
		{
			"java helper class warns", Java,
			"class Helper {}\npublic class Main {\n  public static void main(String[] a) {}\n}\n",
			true, 1, "Please use 'Main' as your class name for proper execution", 1,
		},
		{
			"java System.exit", Java,
			"public class Main {\n  public static void main(String[] a) {\n    System.exit(1);\n  }\n}\n",
			false, 1, "System.exit() is not allowed in this environment", 3,
		},
		{"cpp system", Cpp, "#include <cstdlib>\nint main() { system(\"ls\"); }\n", false, 1, "System calls are not allowed for security reasons", 2},
		{"cpp fork", Cpp, "int main() { fork(); }\n", false, 1, "Process creation is not allowed for security reasons", 1},
		{"cpp exit warns", Cpp, "#include <cstdlib>\nint main() { exit(0); }\n", true, 1, "exit() function is not recommended in this environment", 2},
		{"go missing main", Go, "package lib\n\nfunc Foo() {}\n", false, 2, "Go code must declare package main", 1},
		{"go os/exec", Go, "package main\n\nimport \"os/exec\"\n\nfunc main() { exec.Command(\"ls\") }\n", false, 1, "Process execution is not allowed for security reasons", 3},
		{"bash clean", Bash, "echo hi\n", true, 0, "", 0},
		{"bash fork bomb", Bash, ":(){ :|:& };:\n", false, 1, "Fork bombs are not allowed", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, issues := r.Validate(tt.code, tt.lang)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v (issues: %+v)", ok, tt.wantOK, issues)
			}
			if len(issues) != tt.wantIssues {
				t.Fatalf("got %d issues, want %d: %+v", len(issues), tt.wantIssues, issues)
			}
			if tt.wantMsg != "" && issues[0].Message != tt.wantMsg {
				t.Errorf("issues[0].Message = %q, want %q", issues[0].Message, tt.wantMsg)
			}
			if tt.wantLine != 0 && issues[0].Line != tt.wantLine {
				t.Errorf("issues[0].Line = %d, want %d", issues[0].Line, tt.wantLine)
			}
		})
	}
}

func TestValidate_UnknownLanguage(t *testing.T) {
	ok, issues := NewRegistry().Validate("print(1)", Language("cobol"))
	if ok || len(issues) != 1 || issues[0].Severity != SeverityError {
		t.Errorf("Validate(cobol) = %v, %+v", ok, issues)
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	code := "x = eval('1')\n"
	before := code
	NewRegistry().Validate(code, Python)
	if code != before {
		t.Error("Validate mutated its input")
	}
}

func TestValidate_ReportsEveryMatch(t *testing.T) {
	_, issues := NewRegistry().Validate("eval(1)\neval(2)\neval(3)\n", Python)
	if len(issues) != 3 {
		t.Fatalf("got %d issues, want 3", len(issues))
	}
	for i, is := range issues {
		if is.Line != i+1 {
			t.Errorf("issues[%d].Line = %d, want %d", i, is.Line, i+1)
		}
	}
}

func TestFirstError(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityWarning, Message: "warn"},
		{Severity: SeverityError, Message: "first"},
		{Severity: SeverityError, Message: "second"},
	}
	if got := FirstError(issues); got != "first" {
		t.Errorf("FirstError() = %q, want %q", got, "first")
	}
	if got := FirstError(issues[:1]); got != "" {
		t.Errorf("FirstError(warnings) = %q, want empty", got)
	}
}
