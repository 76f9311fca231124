package main

import (
	"fmt"
	"os"

	"github.com/zhukovaskychina/ledgerkv"
)

func main() {
	dir, err := os.MkdirTemp("", "ledgerkv-demo-*")
	if err != nil {
		fmt.Printf("create demo directory: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	opts := ledgerkv.DefaultOptions()
	opts.Dir = dir
	opts.TTLEnabled = true
	opts.LogSize = 4 << 20     // 4 MiB, small enough for a quick demo
	opts.VlogSize = 4 << 20    // 4 MiB
	opts.ValueThreshold = 512  // promote to the shared value log at or above this
	opts.BigValueThreshold = 1 << 20 // promote to a standalone file at or above this

	fmt.Printf("opening database at %s\n", dir)
	db, err := ledgerkv.Open(opts)
	if err != nil {
		fmt.Printf("open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	users, err := db.CreateTable("users")
	if err != nil {
		fmt.Printf("create table: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("inline path: small value stored directly in the active log")
	if err := users.Insert(1, []byte("alice"), []byte("active"), 0); err != nil {
		fmt.Printf("insert: %v\n", err)
		os.Exit(1)
	}
	val, ok, err := users.Get(1, []byte("alice"))
	report("alice@1", val, ok, err)

	fmt.Println("shared value log path: a value at or above ValueThreshold is promoted")
	profile := make([]byte, 1024)
	for i := range profile {
		profile[i] = byte(i)
	}
	if err := users.Insert(2, []byte("alice"), profile, 0); err != nil {
		fmt.Printf("insert: %v\n", err)
		os.Exit(1)
	}
	val, ok, err = users.Get(2, []byte("alice"))
	fmt.Printf("alice@2: found=%v err=%v len=%d\n", ok, err, len(val))

	fmt.Println("standalone value log path: a value at or above BigValueThreshold gets its own file")
	avatar := make([]byte, 8<<20)
	if err := users.Insert(3, []byte("alice"), avatar, 0); err != nil {
		fmt.Printf("insert: %v\n", err)
		os.Exit(1)
	}
	val, ok, err = users.Get(3, []byte("alice"))
	fmt.Printf("alice@3: found=%v err=%v len=%d\n", ok, err, len(val))

	fmt.Println("MVCC: reading at an older version still sees the old value")
	val, ok, err = users.Get(1, []byte("alice"))
	report("alice@1 (reread)", val, ok, err)

	fmt.Println("tombstone: Remove shadows every earlier version at or above it")
	if err := users.Remove(4, []byte("alice")); err != nil {
		fmt.Printf("remove: %v\n", err)
		os.Exit(1)
	}
	_, ok, err = users.Get(4, []byte("alice"))
	fmt.Printf("alice@4: found=%v err=%v (expected false)\n", ok, err)

	fmt.Println("closing and reopening resumes every live table")
	if err := db.Close(); err != nil {
		fmt.Printf("close: %v\n", err)
		os.Exit(1)
	}
	db2, err := ledgerkv.Open(opts)
	if err != nil {
		fmt.Printf("reopen: %v\n", err)
		os.Exit(1)
	}
	defer db2.Close()
	users2, err := db2.Table("users")
	if err != nil {
		fmt.Printf("table: %v\n", err)
		os.Exit(1)
	}
	if err := users2.Insert(5, []byte("bob"), []byte("new after reopen"), 0); err != nil {
		fmt.Printf("insert after reopen: %v\n", err)
		os.Exit(1)
	}
	val, ok, err = users2.Get(5, []byte("bob"))
	report("bob@5", val, ok, err)
}

func report(label string, val []byte, ok bool, err error) {
	fmt.Printf("%s: found=%v err=%v value=%q\n", label, ok, err, string(val))
}
