package ui

// iconBytes is a 16x16 PNG shown in the system tray.
var iconBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00,
	0x3a, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x60, 0xa0, 0x05, 0xd0,
	0xa8, 0xb8, 0xf3, 0x1f, 0x1b, 0x26, 0x5b, 0x23, 0x51, 0x06, 0x11, 0xab,
	0x19, 0xa7, 0x21, 0xc4, 0x38, 0x15, 0xa7, 0x1a, 0x52, 0xfc, 0x89, 0x55,
	0x2d, 0x36, 0x41, 0x5c, 0x4e, 0x1e, 0x49, 0x06, 0xd0, 0x24, 0x26, 0x88,
	0x4e, 0x07, 0x34, 0x4f, 0x8d, 0xb4, 0xcb, 0x4c, 0xe4, 0x00, 0x00, 0x16,
	0x18, 0x29, 0xb8, 0xb4, 0x12, 0x21, 0xe1, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
