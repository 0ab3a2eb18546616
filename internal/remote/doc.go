// Package remote executes commands and moves files on build hosts over
// ssh.
//
// A [Client] wraps one connection to one host. Commands run in remote
// shell sessions; file transfer is tar streamed through remote tar
// processes, so hosts need nothing installed beyond a shell and tar.
// Every ssh-backed engine (hardware, cloud, pool, local) builds on this
// package.
package remote
