// Package build fetches, unpacks and compiles a fixed set of third-party
// source packages with profiling-friendly compiler flags.
package build

// ProfileFlags is passed to every build through CFLAGS and CXXFLAGS. Frame
// pointers keep stack walks cheap for the kernel tracer.
const ProfileFlags = "-O2 -g -fno-omit-frame-pointer"

// Spec describes one project to build.
type Spec struct {
	Name string
	URL  string
	// Command is evaluated by /bin/sh inside the project's work directory.
	Command string
}

// Programs is the fixed, ordered project list.
var Programs = []Spec{
	{
		Name:    "zlib",
		URL:     "https://zlib.net/fossils/zlib-1.3.1.tar.gz",
		Command: `./configure && make -j"$(nproc)"`,
	},
	{
		Name:    "bzip2",
		URL:     "https://sourceware.org/pub/bzip2/bzip2-1.0.8.tar.gz",
		Command: `make -j"$(nproc)" CFLAGS="$CFLAGS -D_FILE_OFFSET_BITS=64"`,
	},
	{
		Name:    "xz",
		URL:     "https://github.com/tukaani-project/xz/releases/download/v5.4.6/xz-5.4.6.tar.xz",
		Command: `./configure --disable-shared && make -j"$(nproc)"`,
	},
	{
		Name:    "lua",
		URL:     "https://www.lua.org/ftp/lua-5.4.6.tar.gz",
		Command: `make -j"$(nproc)" linux MYCFLAGS="$CFLAGS"`,
	},
	{
		Name:    "sqlite",
		URL:     "https://www.sqlite.org/2024/sqlite-autoconf-3450100.tar.gz",
		Command: `./configure --disable-shared && make -j"$(nproc)"`,
	},
	{
		Name:    "redis",
		URL:     "https://download.redis.io/releases/redis-7.2.4.tar.gz",
		Command: `make -j"$(nproc)" OPTIMIZATION=-O2 MALLOC=libc`,
	},
}
