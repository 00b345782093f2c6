// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

func whoisFrames(origin uint8, guid vscp.GUID, url string) []vscp.Message {
	var mdf [vscp.MDFURLSize]byte
	copy(mdf[:], url)

	var msgs []vscp.Message
	for _, data := range vscp.WhoIsThereData(guid, mdf) {
		m := vscp.Message{
			Class:      vscp.ClassProtocol,
			Type:       vscp.TypeProtocolWhoIsThereResponse,
			OriginAddr: origin,
		}
		m.SetData(data...)
		msgs = append(msgs, m)
	}
	return msgs
}

// ============================================================
// Who Is There Tests
// ============================================================

func TestWhoisCollector_Complete(t *testing.T) {
	guid := vscp.GUID{0: 0xAA, 15: 0x55}
	c := newWhoisCollector()

	frames := whoisFrames(0x21, guid, "http://x.example/a.mdf")
	for i, msg := range frames {
		resp, complete := c.Add(msg)
		if i < len(frames)-1 {
			if complete {
				t.Fatalf("complete after %d frames", i+1)
			}
			continue
		}
		if !complete {
			t.Fatal("not complete after all frames")
		}
		if resp.GUID != guid {
			t.Errorf("GUID %s", resp.GUID)
		}
		if resp.MDFURL != "http://x.example/a.mdf" {
			t.Errorf("MDF URL %q", resp.MDFURL)
		}
	}

	if ids := c.Nicknames(); len(ids) != 1 || ids[0] != 0x21 {
		t.Errorf("Nicknames() = %v", ids)
	}
	if ids := c.Incomplete(); len(ids) != 0 {
		t.Errorf("Incomplete() = %v", ids)
	}
}

func TestWhoisCollector_Interleaved(t *testing.T) {
	a := whoisFrames(0x02, vscp.GUID{15: 2}, "a")
	b := whoisFrames(0x01, vscp.GUID{15: 1}, "b")
	c := newWhoisCollector()

	completed := 0
	for i := range a {
		if _, ok := c.Add(a[i]); ok {
			completed++
		}
		if _, ok := c.Add(b[i]); ok {
			completed++
		}
	}
	if completed != 2 {
		t.Fatalf("completed %d, want 2", completed)
	}
	ids := c.Nicknames()
	if len(ids) != 2 || ids[0] != 0x01 || ids[1] != 0x02 {
		t.Errorf("Nicknames() = %v", ids)
	}
}

func TestWhoisCollector_Ignores(t *testing.T) {
	c := newWhoisCollector()

	tests := []struct {
		name string
		msg  vscp.Message
	}{
		{"other class", vscp.Message{Class: 20, Type: vscp.TypeProtocolWhoIsThereResponse, DataNum: 1}},
		{"other type", vscp.Message{Class: vscp.ClassProtocol, Type: vscp.TypeProtocolProbeAck, DataNum: 1}},
		{"no data", vscp.Message{Class: vscp.ClassProtocol, Type: vscp.TypeProtocolWhoIsThereResponse}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := c.Add(tt.msg); ok {
				t.Error("message completed a response")
			}
		})
	}
	if len(c.Incomplete()) != 0 {
		t.Errorf("Incomplete() = %v", c.Incomplete())
	}
}

func TestWhoisCollector_PartialAndRepeat(t *testing.T) {
	frames := whoisFrames(0x10, vscp.GUID{15: 9}, "x")
	c := newWhoisCollector()

	for _, msg := range frames[:3] {
		c.Add(msg)
	}
	if ids := c.Incomplete(); len(ids) != 1 || ids[0] != 0x10 {
		t.Fatalf("Incomplete() = %v", ids)
	}

	for _, msg := range frames[3:] {
		c.Add(msg)
	}
	// A second full set from the same node is not reported again
	for _, msg := range frames {
		if _, ok := c.Add(msg); ok {
			t.Fatal("repeated response reported")
		}
	}
	if len(c.Nicknames()) != 1 || len(c.Incomplete()) != 0 {
		t.Errorf("nodes %v incomplete %v", c.Nicknames(), c.Incomplete())
	}
}

// ============================================================
// Register Tests
// ============================================================

func pageFrame(origin uint8, data ...byte) vscp.Message {
	m := vscp.Message{
		Class:      vscp.ClassProtocol,
		Type:       vscp.TypeProtocolRWPageResponse,
		OriginAddr: origin,
	}
	m.SetData(data...)
	return m
}

func TestPageCollector(t *testing.T) {
	c := newPageCollector(0x21, 10)

	if c.Add(pageFrame(0x21, 1, 8, 9, 10)) {
		t.Fatal("done after the second frame only")
	}
	if c.Add(pageFrame(0x22, 0, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE)) {
		t.Fatal("frame from another node counted")
	}
	if !c.Add(pageFrame(0x21, 0, 1, 2, 3, 4, 5, 6, 7)) {
		t.Fatal("not done after all values")
	}

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got := c.Values()
	if len(got) != len(want) {
		t.Fatalf("values % X", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values % X, want % X", got, want)
		}
	}
}

func TestPageCollector_DuplicateFrame(t *testing.T) {
	c := newPageCollector(0x21, 14)
	c.Add(pageFrame(0x21, 0, 1, 2, 3, 4, 5, 6, 7))
	if c.Add(pageFrame(0x21, 0, 1, 2, 3, 4, 5, 6, 7)) {
		t.Error("repeated frame counted twice")
	}
}

func TestParseByte(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{"0x83", 0x83, false},
		{"255", 255, false},
		{"0", 0, false},
		{"256", 0, true},
		{"-1", 0, true},
		{"reg", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseByte(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Errorf("got 0x%02X", got)
			}
		})
	}
}

func TestFormatRegisterDump(t *testing.T) {
	got := formatRegisterDump(0x80, []byte{0, 1, 2, 3, 4, 5, 6, 7, 0xAA})
	want := "0x80: 00 01 02 03 04 05 06 07\n0x88: AA\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if formatRegisterDump(0, nil) != "" {
		t.Error("empty dump not empty")
	}
}
