// Package credstore owns config.yaml: the credentials map, the cookie policy
// and the pre-authorized email list.
//
// Every state change follows Load, mutate, Save. LoadCached exists for pages
// that only display accounts; its snapshot is taken once per process and is
// never a valid starting point for Save. Two processes writing the same file
// are not coordinated and the last Save wins.
package credstore
