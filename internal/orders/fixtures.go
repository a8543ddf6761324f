package orders

// fixtureOrders covers the scenario spread the agent is exercised
// against: delivered and returnable, in transit, delivered outside the
// 30-day return window, still processing, and recently delivered.
var fixtureOrders = []Order{
	{
		ID:            "ORD-1001",
		CustomerEmail: "alice@email.com",
		Status:        "Delivered",
		Items: []Item{
			{Title: "The Great Gatsby", Price: 14.99},
			{Title: "To Kill a Mockingbird", Price: 12.99},
		},
		OrderDate:      "2026-01-10",
		DeliveryDate:   "2026-01-20",
		Total:          27.98,
		ReturnEligible: true,
	},
	{
		ID:            "ORD-1002",
		CustomerEmail: "bob@email.com",
		Status:        "In Transit",
		Items: []Item{
			{Title: "1984", Price: 13.99},
		},
		OrderDate:         "2026-02-05",
		EstimatedDelivery: "2026-02-12",
		TrackingNumber:    "TRK123456789",
		Total:             13.99,
	},
	{
		ID:            "ORD-1003",
		CustomerEmail: "alice@email.com",
		Status:        "Delivered",
		Items: []Item{
			{Title: "Pride and Prejudice", Price: 11.99},
		},
		OrderDate:    "2025-11-20",
		DeliveryDate: "2025-12-01",
		Total:        11.99,
		// Outside the 30-day return window
		ReturnEligible: false,
	},
	{
		ID:            "ORD-1004",
		CustomerEmail: "carol@email.com",
		Status:        "Processing",
		Items: []Item{
			{Title: "The Catcher in the Rye", Price: 10.99},
			{Title: "Brave New World", Price: 14.99},
		},
		OrderDate:         "2026-02-07",
		EstimatedDelivery: "2026-02-15",
		Total:             25.98,
	},
	{
		ID:            "ORD-1005",
		CustomerEmail: "bob@email.com",
		Status:        "Delivered",
		Items: []Item{
			{Title: "Moby Dick", Price: 16.99},
		},
		OrderDate:      "2026-01-25",
		DeliveryDate:   "2026-02-01",
		Total:          16.99,
		ReturnEligible: true,
	},
}
