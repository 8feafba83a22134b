package runtime

import "time"

func bashConfig() *Config {
	return &Config{
		Language:    Bash,
		DisplayName: "Shell",
		Extension:   ".sh",
		SourceFile:  "code.sh",
		Image:       "docker.io/library/alpine:3.20",
		Run: []string{
			"/bin/sh",
			"-e", // Exit on error
			"-u", // Treat unset variables as error
		},
		Timeout:   30 * time.Second,
		MemoryMB:  64,
		CPUQuota:  50000,
		PidsLimit: 50,
		Rules: []ValidationRule{
			forbid(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}`, "Fork bombs are not allowed", SeverityError),
			forbid(`\brm\s+-rf\s+/(\s|$)`, "Removing the root filesystem is not allowed", SeverityWarning),
		},
		ErrorPatterns: []ErrorPattern{
			errorPattern(`code\.sh: line (\d+): ([^\n]+)`, 1, 2, 0, ""),
		},
		Template: `#!/bin/sh
name="world"
echo "Hello, ${name}!"
`,
		Examples: []Example{
			{
				Name:        "Hello World",
				Description: "Print a greeting",
				Code:        `echo "Hello, world!"`,
			},
			{
				Name:        "Loop",
				Description: "Count with a while loop",
				Code: `i=1
while [ "$i" -le 5 ]; do
  echo "count $i"
  i=$((i + 1))
done
`,
			},
		},
		FilePatterns: []string{"*.sh", "*.bash"},
		ContentPatterns: []string{
			`^#!.*\b(ba)?sh\b`,
			`^\s*echo\s+`,
			`^\s*if\s+\[`,
			`^\s*fi\s*$`,
			`^\s*done\s*$`,
		},
	}
}
