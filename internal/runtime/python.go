package runtime

import "time"

func pythonConfig() *Config {
	return &Config{
		Language:    Python,
		DisplayName: "Python",
		Extension:   ".py",
		SourceFile:  "code.py",
		Image:       "docker.io/library/python:3.12-slim",
		Run: []string{
			"python3", "-u", // Unbuffered output
			"-B", // Don't write .pyc files
		},
		Env:       []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		Timeout:   30 * time.Second,
		MemoryMB:  128,
		CPUQuota:  50000,
		PidsLimit: 50,
		Rules: []ValidationRule{
			forbid(`eval\s*\(`, "eval() function is dangerous and not allowed", SeverityError),
			forbid(`\bexec\s*\(`, "exec() function is dangerous and not allowed", SeverityError),
		},
		ErrorPatterns: []ErrorPattern{
			errorPattern(`(?s).*File "[^"]*", line (\d+)[^\n]*\n(?:[^\n]*\n)*?(\w+(?:Error|Exception)): ([^\n]*)`, 1, 3, 2, ""),
			errorPattern(`line (\d+)[^\n]*\n(?:[^\n]*\n)*?(SyntaxError): ([^\n]*)`, 1, 3, 2, ""),
		},
		Template: `def main():
    name = "world"
    print(f"Hello, {name}!")


if __name__ == "__main__":
    main()
`,
		Examples: []Example{
			{
				Name:        "Hello World",
				Description: "Print a greeting",
				Code:        `print("Hello, world!")`,
			},
			{
				Name:        "Fibonacci",
				Description: "First ten Fibonacci numbers with a generator",
				Code: `def fib():
    a, b = 0, 1
    while True:
        yield a
        a, b = b, a + b


gen = fib()
print([next(gen) for _ in range(10)])
`,
			},
			{
				Name:        "Read input",
				Description: "Sum the numbers given on stdin",
				Code: `import sys

total = sum(int(tok) for tok in sys.stdin.read().split())
print(total)
`,
			},
		},
		FilePatterns: []string{"*.py", "*.pyw"},
		ContentPatterns: []string{
			`^\s*def\s+\w+\s*\(`,
			`^\s*import\s+\w+`,
			`^\s*from\s+\w+\s+import`,
			`^\s*print\s*\(`,
			`^\s*if\s+__name__\s*==\s*['"]__main__['"]`,
		},
	}
}
