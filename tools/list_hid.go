package main

import (
	"fmt"

	"github.com/sstallion/go-hid"
)

// Lists every HID collection on the system and marks the Logitech
// vendor collections the gesture driver would probe for HID++.
func main() {
	hid.Init()
	defer hid.Exit()

	fmt.Println("HID Devices:")
	hid.Enumerate(0, 0, func(info *hid.DeviceInfo) error {
		marker := "  "
		if info.VendorID == 0x046D && info.UsagePage >= 0xFF00 {
			marker = "* "
		}
		fmt.Printf("%sVID: 0x%04x, PID: 0x%04x, Path: %s, Product: %s, UsagePage: 0x%04x, Usage: 0x%02x, Interface: %d\n",
			marker, info.VendorID, info.ProductID, info.Path, info.ProductStr, info.UsagePage, info.Usage, info.InterfaceNbr)
		return nil
	})
	fmt.Println("\n* = Logitech vendor collection (HID++ candidate)")
}
