package blockdev

import (
	"encoding/binary"
	"testing"
)

func mbrWith(entries ...[16]byte) []byte {
	sector := make([]byte, SectorSize)
	for i, e := range entries {
		copy(sector[mbrEntryOff+i*mbrEntrySize:], e[:])
	}
	binary.LittleEndian.PutUint16(sector[mbrSignatureOff:], mbrSignature)
	return sector
}

func mbrEntry(bootable bool, typ byte, lbaStart, numSectors uint32) [16]byte {
	var e [16]byte
	if bootable {
		e[0] = 0x80
	}
	e[4] = typ
	binary.LittleEndian.PutUint32(e[8:], lbaStart)
	binary.LittleEndian.PutUint32(e[12:], numSectors)
	return e
}

func TestParseTableMBR(t *testing.T) {
	disk := NewRAMDisk(64)
	bd := New(disk)
	sector := mbrWith(
		mbrEntry(true, 0x0C, 2048, 4096),
		mbrEntry(false, 0x83, 6144, 8192),
	)
	if err := bd.WriteAt(sector, 0); err != 0 {
		t.Fatalf("seed MBR: %v", err)
	}

	tbl, err := ParseTable(bd)
	if err != 0 {
		t.Fatalf("ParseTable: %v", err)
	}
	if tbl.Kind != TableMBR {
		t.Fatalf("Kind = %v, want TableMBR", tbl.Kind)
	}
	if len(tbl.Partitions) != 2 {
		t.Fatalf("got %d partitions, want 2", len(tbl.Partitions))
	}
	p0 := tbl.Partitions[0]
	if p0.Index != 1 || p0.LBAStart != 2048 || p0.NumSectors != 4096 || !p0.Bootable {
		t.Fatalf("partition 0 = %+v", p0)
	}
	if tbl.Partitions[1].Bootable {
		t.Fatal("second partition should not be bootable")
	}
}

func TestParseTableRejectsBadSignature(t *testing.T) {
	disk := NewRAMDisk(1)
	bd := New(disk)
	if _, err := ParseTable(bd); err == 0 {
		t.Fatal("expected missing-signature MBR to be rejected")
	}
}

func TestParseTableSkipsEmptyEntries(t *testing.T) {
	disk := NewRAMDisk(16)
	bd := New(disk)
	sector := mbrWith(mbrEntry(false, 0x0B, 100, 200))
	if err := bd.WriteAt(sector, 0); err != 0 {
		t.Fatalf("seed MBR: %v", err)
	}
	tbl, err := ParseTable(bd)
	if err != 0 {
		t.Fatalf("ParseTable: %v", err)
	}
	if len(tbl.Partitions) != 1 {
		t.Fatalf("got %d partitions, want 1", len(tbl.Partitions))
	}
}

func TestNewPartitionDeviceOffsetsReads(t *testing.T) {
	disk := NewRAMDisk(32)
	bd := New(disk)
	payload := make([]byte, SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	const partStartLBA = 4
	if err := bd.WriteAt(payload, partStartLBA*SectorSize); err != 0 {
		t.Fatalf("seed: %v", err)
	}

	pd := NewPartitionDevice(bd, Partition{LBAStart: partStartLBA, NumSectors: 8})
	partBD := New(pd)
	got := make([]byte, SectorSize)
	if err := partBD.ReadAt(got, 0); err != 0 {
		t.Fatalf("read through partition device: %v", err)
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], payload[i])
		}
	}
}
