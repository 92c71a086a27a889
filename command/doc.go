/*
Package command holds the values exchanged between a command dispatcher and
the correlation core: the terminal Result delivered to a waiting caller, the
CompletionMode chosen at registration and the reply shapes produced by the
command-processing side.
*/
package command
