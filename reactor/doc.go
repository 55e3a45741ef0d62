// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the level-triggered epoll reactor that drives
// connections and acceptors. Handlers, Submit closures and interest changes
// all execute on the goroutine running Poll or Run.
package reactor
