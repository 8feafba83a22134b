package runtime

import "time"

func goConfig() *Config {
	return &Config{
		Language:    Go,
		DisplayName: "Go",
		Extension:   ".go",
		SourceFile:  "main.go",
		Image:       "docker.io/library/golang:1.24-alpine",
		Run:         []string{"go", "run"},
		Env: []string{
			"GOCACHE=/tmp/go-cache",
			"GOPATH=/tmp/go",
			"GOTOOLCHAIN=local",
			"GOFLAGS=-buildvcs=false",
			"CGO_ENABLED=0",
		},
		Timeout:           45 * time.Second,
		MemoryMB:          256,
		CPUQuota:          75000,
		PidsLimit:         128,
		ScratchExec:       true,
		LargeAddressSpace: true,
		Rules: []ValidationRule{
			require(`^\s*package\s+main\b`, "Go code must declare package main", SeverityError),
			require(`\bfunc\s+main\s*\(\s*\)`, "Go code must define func main()", SeverityError),
			forbid(`"os/exec"`, "Process execution is not allowed for security reasons", SeverityError),
			forbid(`"syscall"`, "Direct system calls are restricted in this environment", SeverityWarning),
		},
		ErrorPatterns: []ErrorPattern{
			errorPattern(`main\.go:(\d+):\d+: ([^\n]+)`, 1, 2, 0, "CompileError"),
			errorPattern(`panic: ([^\n]+)\n(?:[^\n]*\n)*?[^\n]*main\.go:(\d+)`, 2, 1, 0, "panic"),
		},
		Template: `package main

import "fmt"

func main() {
	name := "world"
	fmt.Printf("Hello, %s!\n", name)
}
`,
		Examples: []Example{
			{
				Name:        "Hello World",
				Description: "Print a greeting",
				Code: `package main

import "fmt"

func main() {
	fmt.Println("Hello, world!")
}
`,
			},
			{
				Name:        "Goroutines",
				Description: "Fan out work and collect results over a channel",
				Code: `package main

import (
	"fmt"
	"sync"
)

func main() {
	results := make(chan int, 5)
	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- n * n
		}(i)
	}
	wg.Wait()
	close(results)

	sum := 0
	for r := range results {
		sum += r
	}
	fmt.Println("sum of squares:", sum)
}
`,
			},
		},
		FilePatterns: []string{"*.go"},
		ContentPatterns: []string{
			`^\s*package\s+\w+`,
			`^\s*func\s+\w+\s*\(`,
			`^\s*import\s+\(`,
			`fmt\.Print`,
			`:=`,
		},
	}
}
