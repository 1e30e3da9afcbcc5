package http

// SetAdOffset pins the sponsored slot so listings are deterministic in tests.
func SetAdOffset(h *Handler, f func(int64) int64) { h.adOffset = f }
