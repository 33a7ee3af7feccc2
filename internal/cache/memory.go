package cache

const (
	memorySize      = 352
	memoryBlockSize = 8
)

// Memory reads size bytes of the 352-byte parameter memory starting
// at offset, demand-reading aligned 8-byte pages through the proxy
// and reusing pages already known. A page shorter than 8 bytes (the
// device may return a short page at the tail) advances the cursor by
// only the bytes actually returned, rather than assuming a full page.
func (c *Cache) Memory(offset, size int) ([]byte, error) {
	if offset >= memorySize {
		return nil, nil
	}
	if offset+size > memorySize {
		size = memorySize - offset
	}

	result := make([]byte, 0, size)
	addr := (offset / memoryBlockSize) * memoryBlockSize
	for addr < offset+size {
		page, err := c.pageLocked(addr)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		start := 0
		if addr < offset {
			start = offset - addr
		}
		for i := start; i < len(page) && addr+i < offset+size; i++ {
			result = append(result, page[i])
		}
		addr += len(page)
	}
	return result, nil
}

func (c *Cache) pageLocked(addr int) ([]byte, error) {
	c.mu.Lock()
	if page, ok := c.memPages[addr]; ok {
		c.mu.Unlock()
		return page, nil
	}
	c.mu.Unlock()

	page, err := c.proxy.MemR(addr, memoryBlockSize)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.memPages[addr] = page
	c.mu.Unlock()
	return page, nil
}
