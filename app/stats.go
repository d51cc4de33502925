package app

import "sync/atomic"

type Stats struct {
	files        uint64
	archives     uint64
	classes      uint64
	infected     uint64
	errors       uint64
	images       uint64
	repositories uint64
}

// Files counts the archives dispatched for scanning.
func (s *Stats) Files() uint64 {
	return atomic.LoadUint64(&s.files)
}

func (s *Stats) IncFile() {
	atomic.AddUint64(&s.files, 1)
}

// Archives counts the archives whose scan finished.
func (s *Stats) Archives() uint64 {
	return atomic.LoadUint64(&s.archives)
}

func (s *Stats) IncArchive() {
	atomic.AddUint64(&s.archives, 1)
}

func (s *Stats) Classes() uint64 {
	return atomic.LoadUint64(&s.classes)
}

func (s *Stats) AddClasses(n int) {
	atomic.AddUint64(&s.classes, uint64(n))
}

func (s *Stats) Infected() uint64 {
	return atomic.LoadUint64(&s.infected)
}

func (s *Stats) IncInfected() {
	atomic.AddUint64(&s.infected, 1)
}

func (s *Stats) Errors() uint64 {
	return atomic.LoadUint64(&s.errors)
}

func (s *Stats) IncError() {
	atomic.AddUint64(&s.errors, 1)
}

func (s *Stats) AddErrors(n int) {
	atomic.AddUint64(&s.errors, uint64(n))
}

func (s *Stats) Images() uint64 {
	return atomic.LoadUint64(&s.images)
}

func (s *Stats) IncImage() {
	atomic.AddUint64(&s.images, 1)
}

func (s *Stats) Repositories() uint64 {
	return atomic.LoadUint64(&s.repositories)
}

func (s *Stats) IncRepository() {
	atomic.AddUint64(&s.repositories, 1)
}

func (s *Stats) reset() {
	atomic.StoreUint64(&s.files, 0)
	atomic.StoreUint64(&s.archives, 0)
	atomic.StoreUint64(&s.classes, 0)
	atomic.StoreUint64(&s.infected, 0)
	atomic.StoreUint64(&s.errors, 0)
	atomic.StoreUint64(&s.images, 0)
	atomic.StoreUint64(&s.repositories, 0)
}
