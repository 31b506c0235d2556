package host

func unregisterForTest(name string) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	delete(linked, name)
}
