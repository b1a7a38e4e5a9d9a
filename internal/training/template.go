package training

import "logistics/api/internal/store"

var defaultSteps = []store.SOPStep{
	{
		ID:    1,
		Title: "Tour & OMS Preparation",
		Points: []string{
			"Check which tour is assigned to you (shown at the bottom of every tour).",
			"Open OMS → Dispatcher section.",
			"Search the assigned company.",
			"Refresh OMS compulsorily at 8:30 AM.",
		},
	},
	{
		ID:    2,
		Title: "Order Type Handling (Regular + Catering)",
		Points: []string{
			"If a company has both regular and catering orders, they must be packed together.",
			"Regular and catering orders from the same company are NOT treated as separate companies for packing.",
			"Example: Omio and Omio-Catering orders must be packed in the same Omio hot and cold boxes.",
		},
	},
	{
		ID:    3,
		Title: "Sticker Rules",
		Points: []string{
			"Minimum 2 hand-written stickers required per company.",
			"If hot and cold boxes are separate, stickers must be applied on both boxes.",
			"If all dishes are packed in one box, all stickers must be applied on that box.",
			"No box is allowed to leave the dispatch area without a sticker.",
		},
	},
	{
		ID:    4,
		Title: "ProGlove Connection",
		Points: []string{
			"Open Insider Mobile App on the tablet.",
			"Scan the QR code to connect ProGlove with the tablet.",
			"Ensure connection is successful before scanning.",
		},
	},
	{
		ID:    5,
		Title: "Packing Decision Rules",
		Points: []string{
			"Check total number of dishes ordered.",
			"If 10–12 dishes, pack all dishes in one box.",
			"If hot dishes are 6 or more, place a red plate at the bottom.",
			"Red plate is mandatory for all hot dishes.",
		},
	},
	{
		ID:    6,
		Title: "Scanning Process – Cold Dishes",
		Points: []string{
			"Click Start Scanning.",
			"Scan Box QR Code (mandatory).",
			"Scan Cold Dish Letter QR Code.",
			"Scan Bowl QR Code.",
			"Follow on-screen instructions.",
		},
	},
	{
		ID:    7,
		Title: "Scanning Process – Hot Dishes",
		Points: []string{
			"Scan the hot box again.",
			"Place red plate at the bottom.",
			"Scan Hot Dish Letter QR Code.",
			"Scan Bowl QR Code.",
			"Ensure physical dish count matches OMS for both hot and cold dishes.",
		},
	},
	{
		ID:    8,
		Title: "Add-ons Handling",
		Points: []string{
			"Add-ons are currently closed manually.",
			"Add-on scanning will be implemented in the future.",
		},
	},
	{
		ID:    9,
		Title: "Storage & Segregation Rules",
		Points: []string{
			"Chocolates: cold section only (always with cold dishes).",
			"FJ Raugh: dedicated section.",
			"Jarritos: bottom fridge.",
			"YFood drinks: dedicated section.",
		},
	},
	{
		ID:    10,
		Title: "Packing Rules",
		Points: []string{
			"Only Chicken, Roasted Vegetables, Rice, and Soup are allowed in hot boxes.",
			"All other items must go into cold boxes.",
			"If packed in one box, chocolates must be placed in one corner of the cold section.",
			"Use a paper bag if there are many add-ons with mixed dishes.",
			"Make sure the dish is clean, no leakage, and has the dish letter.",
			"Do not tilt dishes. Distribution should be even.",
		},
	},
	{
		ID:    11,
		Title: "Final Dispatch Actions",
		Points: []string{
			"After completing dispatch, collect all papers and QR stickers.",
			"Place all papers for the company in any one box.",
			"Apply stickers correctly as per packing configuration.",
		},
	},
	{
		ID:    12,
		Title: "Final OMS Verification",
		Points: []string{
			"Refresh OMS.",
			"Verify all companies.",
			"Confirm all dishes are scanned and assigned to correct boxes.",
			"Dispatch is complete only after OMS and physical packing fully match.",
		},
	},
}

// DefaultSteps returns a fresh copy of the built-in dispatch SOP.
func DefaultSteps() []store.SOPStep {
	return store.CloneSOPSteps(defaultSteps)
}
