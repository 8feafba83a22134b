package runtime

import "time"

func javaConfig() *Config {
	return &Config{
		Language:    Java,
		DisplayName: "Java",
		Extension:   ".java",
		SourceFile:  "Main.java",
		Image:       "docker.io/library/eclipse-temurin:21-jdk",
		CompileScript: `javac -J-XX:+UseSerialGC -J-XX:-UsePerfData -d "$1" "$2" && ` +
			`exec java -XX:+UseSerialGC -XX:-UsePerfData -cp "$1" Main`,
		Timeout:           45 * time.Second,
		MemoryMB:          256,
		CPUQuota:          75000,
		PidsLimit:         128,
		LargeAddressSpace: true,
		Rules: []ValidationRule{
			forbid(`import\s+java\.io\.File`, "File I/O operations are restricted for security reasons", SeverityWarning),
			forbid(`import\s+java\.lang\.Runtime`, "Runtime operations are not allowed for security reasons", SeverityError),
			forbid(`import\s+java\.lang\.ProcessBuilder`, "Process operations are not allowed for security reasons", SeverityError),
			forbid(`System\.exit\s*\(`, "System.exit() is not allowed in this environment", SeverityError),
			forbid(`\bclass\s+(\w+)\s*\{`, "Please use 'Main' as your class name for proper execution", SeverityWarning).
				allowing("Main"),
			require(`\bclass\s+Main\b`, "Java code must contain a 'public class Main' with a main method", SeverityError),
		},
		ErrorPatterns: []ErrorPattern{
			errorPattern(`Main\.java:(\d+): error: ([^\n]+)`, 1, 2, 0, ""),
			errorPattern(`Exception in thread "main" ([\w.$]+)(?:: ([^\n]*))?\n\s+at Main\.\w+\(Main\.java:(\d+)\)`, 3, 2, 1, ""),
		},
		Template: `public class Main {
    public static void main(String[] args) {
        String name = "world";
        System.out.println("Hello, " + name + "!");
    }
}
`,
		Examples: []Example{
			{
				Name:        "Hello World",
				Description: "Print a greeting",
				Code: `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello, world!");
    }
}
`,
			},
			{
				Name:        "Streams",
				Description: "Sum of squares with the streams API",
				Code: `import java.util.stream.IntStream;

public class Main {
    public static void main(String[] args) {
        int sum = IntStream.rangeClosed(1, 10).map(x -> x * x).sum();
        System.out.println("Sum of squares: " + sum);
    }
}
`,
			},
		},
		FilePatterns: []string{"*.java"},
		ContentPatterns: []string{
			`^\s*public\s+class\s+\w+`,
			`^\s*public\s+static\s+void\s+main`,
			`^\s*import\s+java\.`,
			`System\.out\.print`,
			`^\s*/\*\*.*\*/`,
		},
	}
}
