package runtime

import "time"

func cppConfig() *Config {
	return &Config{
		Language:      Cpp,
		DisplayName:   "C++",
		Extension:     ".cpp",
		SourceFile:    "code.cpp",
		Image:         "docker.io/library/gcc:13",
		CompileScript: `g++ -std=c++17 -O2 -o "$1/program" "$2" && exec "$1/program"`,
		Timeout:       45 * time.Second,
		MemoryMB:      256,
		CPUQuota:      75000,
		PidsLimit:     64,
		ScratchExec:   true,
		Rules: []ValidationRule{
			forbid(`\bsystem\s*\(`, "System calls are not allowed for security reasons", SeverityError),
			forbid(`\bexec[vl][pe]*\s*\(`, "Process execution is not allowed for security reasons", SeverityError),
			forbid(`\bfork\s*\(`, "Process creation is not allowed for security reasons", SeverityError),
			forbid(`\bexit\s*\(`, "exit() function is not recommended in this environment", SeverityWarning),
		},
		ErrorPatterns: []ErrorPattern{
			errorPattern(`code\.cpp:(\d+):[^\n]*error: ([^\n]+)`, 1, 2, 0, ""),
			errorPattern(`code\.cpp:(\d+):[^\n]*warning: ([^\n]+)`, 1, 2, 0, "Warning"),
		},
		Template: `#include <iostream>
#include <string>

int main() {
    std::string name = "world";
    std::cout << "Hello, " << name << "!" << std::endl;
    return 0;
}
`,
		Examples: []Example{
			{
				Name:        "Hello World",
				Description: "Print a greeting",
				Code: `#include <iostream>

int main() {
    std::cout << "Hello, world!" << std::endl;
    return 0;
}
`,
			},
			{
				Name:        "Vector sort",
				Description: "Sort a vector and print it",
				Code: `#include <algorithm>
#include <iostream>
#include <vector>

int main() {
    std::vector<int> v{5, 3, 9, 1, 7};
    std::sort(v.begin(), v.end());
    for (int x : v) std::cout << x << " ";
    std::cout << std::endl;
    return 0;
}
`,
			},
		},
		FilePatterns: []string{"*.cpp", "*.cxx", "*.cc", "*.hpp"},
		ContentPatterns: []string{
			`^\s*#include\s*<.*>`,
			`^\s*using\s+namespace\s+std`,
			`^\s*int\s+main\s*\(`,
			`std::cout`,
			`cout\s*<<`,
			`^\s*//.*`,
		},
	}
}
