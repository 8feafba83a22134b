package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func interpreterSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		AllowSyscalls(
			"read", "write", "readv", "writev", "pread64", "pwrite64",
			"open", "openat", "close", "lseek",
			"stat", "fstat", "lstat", "newfstatat", "statx",
			"access", "faccessat", "faccessat2",
			"dup", "dup2", "dup3",
			"fcntl", "ioctl",
			"poll", "ppoll", "select", "pselect6",
			"pipe", "pipe2",
			"readlink", "readlinkat",
			"getdents64", "getcwd", "chdir", "fchdir",
		).
		AllowSyscalls(
			"brk", "mmap", "munmap", "mprotect", "mremap", "madvise",
		).
		AllowSyscalls(
			"execve", "execveat",
			"exit", "exit_group",
			"wait4", "waitid",
			"clone", "clone3", "vfork",
			"set_tid_address",
			"set_robust_list", "get_robust_list",
		).
		AllowSyscalls(
			"futex", "gettid", "tgkill", "kill",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack",
		).
		AllowSyscalls(
			"clock_gettime", "clock_getres", "gettimeofday",
			"nanosleep", "clock_nanosleep",
		).
		AllowSyscalls(
			"getpid", "getppid",
			"getuid", "geteuid", "getgid", "getegid", "getgroups",
			"uname", "sysinfo",
			"getrlimit", "prlimit64",
			"getrandom", "arch_prctl", "prctl",
		).
		AllowSyscalls(
			"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait", "eventfd2",
		).
		// Scratch-mount file operations; the rootfs itself is read-only.
		AllowSyscalls(
			"umask", "chmod", "fchmod", "fchmodat",
			"rename", "renameat", "renameat2",
			"unlink", "unlinkat", "mkdir", "mkdirat", "rmdir",
			"symlink", "symlinkat", "link", "linkat",
			"ftruncate", "fallocate", "fsync", "fdatasync", "flock",
			"statfs", "fstatfs",
			"memfd_create", "copy_file_range",
		)
}

// toolchainSyscalls covers what javac/java, g++ and the go toolchain need on top of
// plain interpreters: thread affinity queries, usage accounting and rseq.
func toolchainSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.AllowSyscalls(
		"sched_getaffinity", "sched_yield", "sched_getparam", "sched_getscheduler",
		"getrusage", "times",
		"mincore", "msync",
		"rseq", "membarrier",
		"pidfd_open", "pidfd_send_signal",
		"utimensat", "futimesat",
		"fchown", "fchownat",
		"socketpair",
	)
}

func deniedSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		TrapSyscalls(
			"ptrace",
			"process_vm_readv", "process_vm_writev",
			"keyctl", "add_key", "request_key",
			"bpf", "perf_event_open", "userfaultfd",
			"kexec_load", "kexec_file_load",
			"finit_module", "init_module", "delete_module",
		).
		BlockSyscalls(
			"socket", "connect", "bind", "listen", "accept", "accept4",
			"mount", "umount2", "pivot_root",
			"reboot", "swapon", "swapoff",
			"sethostname", "setdomainname",
			"setns", "unshare",
			"acct", "settimeofday", "adjtimex", "clock_adjtime",
			"personality", "lookup_dcookie",
			"ioperm", "iopl",
		)
}

// DefaultProfile is the no-network profile used for interpreted languages.
func DefaultProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = interpreterSyscalls(b)
	b = deniedSyscalls(b)
	return b.Build()
}

// ToolchainProfile extends DefaultProfile for languages that compile before running.
func ToolchainProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = interpreterSyscalls(b)
	b = toolchainSyscalls(b)
	b = deniedSyscalls(b)
	return b.Build()
}

// Profile picks DefaultProfile or ToolchainProfile.
func Profile(toolchain bool) *specs.LinuxSeccomp {
	if toolchain {
		return ToolchainProfile()
	}
	return DefaultProfile()
}

// DockerProfileJSON returns DefaultProfile in docker's JSON format.
func DockerProfileJSON() ([]byte, error) {
	return MarshalDocker(DefaultProfile())
}

// DockerToolchainProfileJSON returns ToolchainProfile in docker's JSON format.
func DockerToolchainProfileJSON() ([]byte, error) {
	return MarshalDocker(ToolchainProfile())
}

// DockerProfileFor returns Profile(toolchain) in docker's JSON format.
func DockerProfileFor(toolchain bool) ([]byte, error) {
	return MarshalDocker(Profile(toolchain))
}
