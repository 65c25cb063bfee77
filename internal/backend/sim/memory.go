package sim

import "golang.org/x/sys/unix"

// mapAnon returns size bytes of zeroed anonymous memory. mmap keeps device buffers out
// of the Go heap the way DMA buffers would be; if it is unavailable the heap is used.
func mapAnon(size int) ([]byte, bool) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err == nil {
		return data, true
	}
	return make([]byte, size), false
}

func unmap(data []byte, mapped bool) error {
	if !mapped {
		return nil
	}
	return unix.Munmap(data)
}
