package runtime

import "time"

func javascriptConfig() *Config {
	return &Config{
		Language:          JavaScript,
		DisplayName:       "JavaScript",
		Extension:         ".js",
		SourceFile:        "code.js",
		Image:             "docker.io/library/node:20-slim",
		Run:               []string{"node"},
		Env:               []string{"NODE_OPTIONS=--max-old-space-size=96"},
		Timeout:           30 * time.Second,
		MemoryMB:          128,
		CPUQuota:          50000,
		PidsLimit:         50,
		LargeAddressSpace: true,
		Rules: []ValidationRule{
			forbid(`eval\s*\(`, "eval() function is dangerous and not allowed", SeverityError),
		},
		ErrorPatterns: []ErrorPattern{
			errorPattern(`\.js:(\d+)\n(?:[^\n]*\n)*?(\w+Error): ([^\n]*)`, 1, 3, 2, ""),
			errorPattern(`(\w+Error): ([^\n]+)\n[^\n]*at [^\n]*:(\d+):`, 3, 2, 1, ""),
		},
		Template: `function main() {
  const name = "world";
  console.log(` + "`Hello, ${name}!`" + `);
}

main();
`,
		Examples: []Example{
			{
				Name:        "Hello World",
				Description: "Print a greeting",
				Code:        `console.log("Hello, world!");`,
			},
			{
				Name:        "Async",
				Description: "Await a timer-backed promise",
				Code: `const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));

(async () => {
  for (let i = 1; i <= 3; i++) {
    await sleep(100);
    console.log("tick", i);
  }
})();
`,
			},
		},
		FilePatterns: []string{"*.js", "*.mjs", "*.cjs"},
		ContentPatterns: []string{
			`^\s*function\s+\w+\s*\(`,
			`^\s*const\s+\w+\s*=`,
			`^\s*let\s+\w+\s*=`,
			`^\s*var\s+\w+\s*=`,
			`console\.log\s*\(`,
			`^\s*//.*`,
		},
	}
}
