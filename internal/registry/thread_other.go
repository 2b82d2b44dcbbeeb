//go:build !windows

package registry

func threadInit() error { return nil }

func threadUninit() {}
