package device

import "testing"

func TestParseListSingleDevice(t *testing.T) {
	got := ParseList("List of devices attached\nEMU123 device\n")
	if len(got) != 1 {
		t.Fatalf("expected 1 device, got %d: %+v", len(got), got)
	}
	want := Device{Serial: "EMU123", Status: "device", Model: ""}
	if got[0] != want {
		t.Fatalf("expected %+v, got %+v", want, got[0])
	}
}

func TestParseListSkipsMalformedLines(t *testing.T) {
	output := "List of devices attached\n" +
		"emulator-5554\tdevice\n" +
		"\n" +
		"lonely\n" +
		"R58M12ABC\tunauthorized usb:1-1 transport_id:3\n" +
		"192.168.1.7:5555\toffline\n"
	got := ParseList(output)
	want := []Device{
		{Serial: "emulator-5554", Status: "device"},
		{Serial: "R58M12ABC", Status: "unauthorized"},
		{Serial: "192.168.1.7:5555", Status: "offline"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d devices, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("device %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestParseListDropsHeaderAndDuplicates(t *testing.T) {
	output := "EMU1 device\nEMU2 device\nEMU2 offline\r\n* daemon started successfully\n"
	got := ParseList(output)
	if len(got) != 1 {
		t.Fatalf("expected only EMU2 once, got %+v", got)
	}
	if got[0].Serial != "EMU2" || got[0].Status != "device" {
		t.Fatalf("unexpected device %+v", got[0])
	}
}

func TestParseListEmptyOutput(t *testing.T) {
	if got := ParseList(""); len(got) != 0 {
		t.Fatalf("expected no devices, got %+v", got)
	}
	if got := ParseList("List of devices attached\n\n"); len(got) != 0 {
		t.Fatalf("expected no devices, got %+v", got)
	}
}
