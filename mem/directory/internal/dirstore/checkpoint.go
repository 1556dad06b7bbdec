package dirstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

var checkpointMagic = [4]byte{'C', 'D', 'I', 'R'}

const checkpointVersion = 1

type checkpointHeader struct {
	Magic    [4]byte
	Version  uint16
	Bank     uint32
	NumSets  uint32
	NumWays  uint32
	NumCores uint32
	NumWords uint32
}

type recordHeader struct {
	Valid uint8
	Tag   uint64
	Flags uint8
}

func (h checkpointHeader) sectionSize() int64 {
	record := int64(1 + 8 + 1 + 8*h.NumWords)
	lru := int64(2 * h.NumWays)

	return int64(h.NumSets) * (int64(h.NumWays)*record + lru)
}

func writeCheckpoint(w io.Writer, s *Standard) error {
	bw := bufio.NewWriter(w)
	numWords := sharing.WordsFor(s.cfg.NumCores)

	hdr := checkpointHeader{
		Magic:    checkpointMagic,
		Version:  checkpointVersion,
		Bank:     uint32(s.cfg.Bank),
		NumSets:  uint32(s.cfg.NumSets),
		NumWays:  uint32(s.cfg.NumWays),
		NumCores: uint32(s.cfg.NumCores),
		NumWords: uint32(numWords),
	}

	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}

	for i := range s.sets {
		set := &s.sets[i]

		for j := range set.Ways {
			if err := writeRecord(bw, &set.Ways[j], numWords); err != nil {
				return err
			}
		}

		for _, wayID := range set.LRUQueue {
			err := binary.Write(bw, binary.LittleEndian, uint16(wayID))
			if err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

func writeRecord(w io.Writer, way *Way, numWords int) error {
	rec := recordHeader{}
	words := make([]uint64, numWords)

	if way.Valid {
		rec.Valid = 1
		rec.Tag = way.Tag
		rec.Flags, words = sharing.Encode(way.State, numWords)
	}

	if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, words)
}

// readCheckpoint scans the sections of all banks and loads the one that
// belongs to the store.
func readCheckpoint(r io.Reader, s *Standard) error {
	br := bufio.NewReader(r)
	loaded := false

	for {
		var hdr checkpointHeader

		err := binary.Read(br, binary.LittleEndian, &hdr)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("reading checkpoint header: %w", err)
		}

		if hdr.Magic != checkpointMagic || hdr.Version != checkpointVersion {
			return fmt.Errorf("not a directory checkpoint")
		}

		if int(hdr.Bank) != s.cfg.Bank {
			_, err := io.CopyN(io.Discard, br, hdr.sectionSize())
			if err != nil {
				return fmt.Errorf("skipping bank %d: %w", hdr.Bank, err)
			}

			continue
		}

		if err := s.checkGeometry(hdr); err != nil {
			return err
		}

		if err := s.readSection(br, hdr); err != nil {
			return err
		}

		loaded = true
	}

	if !loaded {
		return fmt.Errorf("checkpoint has no section for bank %d", s.cfg.Bank)
	}

	return nil
}

func (s *Standard) checkGeometry(hdr checkpointHeader) error {
	if int(hdr.NumSets) != s.cfg.NumSets ||
		int(hdr.NumWays) != s.cfg.NumWays ||
		int(hdr.NumCores) != s.cfg.NumCores {
		return fmt.Errorf(
			"checkpoint geometry %dx%d for %d cores does not match "+
				"directory %dx%d for %d cores",
			hdr.NumSets, hdr.NumWays, hdr.NumCores,
			s.cfg.NumSets, s.cfg.NumWays, s.cfg.NumCores)
	}

	return nil
}

func (s *Standard) readSection(r io.Reader, hdr checkpointHeader) error {
	words := make([]uint64, hdr.NumWords)

	for i := range s.sets {
		set := &s.sets[i]

		for j := range set.Ways {
			var rec recordHeader
			if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
				return fmt.Errorf("reading record %d/%d: %w", i, j, err)
			}

			if err := binary.Read(r, binary.LittleEndian, words); err != nil {
				return fmt.Errorf("reading record %d/%d: %w", i, j, err)
			}

			s.restoreWay(&set.Ways[j], rec, words)
		}

		seen := make([]bool, len(set.Ways))

		for k := range set.LRUQueue {
			var wayID uint16
			if err := binary.Read(r, binary.LittleEndian, &wayID); err != nil {
				return fmt.Errorf("reading LRU of set %d: %w", i, err)
			}

			if int(wayID) >= len(set.Ways) || seen[wayID] {
				return fmt.Errorf("LRU of set %d has bad way %d", i, wayID)
			}

			seen[wayID] = true
			set.LRUQueue[k] = int(wayID)
		}
	}

	return nil
}

func (s *Standard) restoreWay(way *Way, rec recordHeader, words []uint64) {
	way.Protected = 0

	if rec.Valid == 0 {
		way.Valid = false
		way.Tag = 0
		way.State = nil

		return
	}

	if home := s.cfg.Mapper.Find(rec.Tag); home != s.cfg.Bank {
		log.Panicf("checkpoint block 0x%x belongs to bank %d, not bank %d",
			rec.Tag, home, s.cfg.Bank)
	}

	if set := s.SetIndex(rec.Tag); set != way.SetID {
		log.Panicf("checkpoint block 0x%x is in set %d but maps to set %d",
			rec.Tag, way.SetID, set)
	}

	state := s.cfg.Factory.NewState()
	sharing.Decode(state, rec.Flags, words)

	way.Valid = true
	way.Tag = rec.Tag
	way.State = state
}
