package tool

// Builtin returns the stock catalog of the diet-tracking backend. Specs
// only: deployments bind handlers to the subset they implement, the rest
// are answered by the default handler.
func Builtin() []*Tool {
	min0 := float64(0)
	max5000 := float64(5000)
	maxServings := float64(50)

	return []*Tool{
		{
			Name:        "log_meal",
			Description: "Record a meal in the caller's food diary",
			Category:    CategoryNutrition,
			Version:     "1.2.0",
			Tags:        []string{"food", "diary"},
			Parameters: []ParameterSpec{
				{Name: "meal", Type: TypeString, Description: "Free-text meal description", Required: true},
				{Name: "calories", Type: TypeInteger, Minimum: &min0, Maximum: &max5000, Required: true},
				{Name: "slot", Type: TypeString, Enum: []any{"breakfast", "lunch", "dinner", "snack"}},
				{Name: "date", Type: TypeString, Pattern: `^\d{4}-\d{2}-\d{2}$`},
				{Name: "portion", Type: TypeFloat, Default: 1.0, Minimum: &min0, Maximum: &maxServings},
			},
			Required: []string{"meal", "calories"},
		},
		{
			Name:        "nutrition_summary",
			Description: "Summarize calories and macros over a date range",
			Category:    CategoryNutrition,
			Version:     "1.0.1",
			Tags:        []string{"food", "report"},
			Parameters: []ParameterSpec{
				{Name: "from", Type: TypeString, Pattern: `^\d{4}-\d{2}-\d{2}$`, Required: true},
				{Name: "to", Type: TypeString, Pattern: `^\d{4}-\d{2}-\d{2}$`, Required: true},
				{Name: "group_by", Type: TypeString, Enum: []any{"day", "week", "meal"}, Default: "day"},
			},
			Required: []string{"from", "to"},
		},
		{
			Name:        "search_recipes",
			Description: "Search the recipe index by ingredient or dietary constraint",
			Category:    CategoryRecipes,
			Version:     "2.0.0",
			Tags:        []string{"food", "search"},
			Parameters: []ParameterSpec{
				{Name: "query", Type: TypeString, Required: true},
				{Name: "diet", Type: TypeString, Enum: []any{"vegan", "vegetarian", "keto", "paleo", "none"}, Default: "none"},
				{Name: "max_results", Type: TypeInteger, Default: 10, Minimum: &min0},
			},
			Required: []string{"query"},
		},
		{
			Name:        "add_grocery_item",
			Description: "Add an item to the caller's grocery list",
			Category:    CategoryGrocery,
			Version:     "1.0.0",
			Tags:        []string{"shopping"},
			Parameters: []ParameterSpec{
				{Name: "item", Type: TypeString, Required: true},
				{Name: "quantity", Type: TypeFloat, Default: 1.0, Minimum: &min0},
				{Name: "unit", Type: TypeString},
			},
			Required: []string{"item"},
		},
		{
			Name:        "log_weight",
			Description: "Record a body-weight measurement",
			Category:    CategoryHealth,
			Version:     "1.1.0",
			Tags:        []string{"measurement", "diary"},
			Parameters: []ParameterSpec{
				{Name: "kg", Type: TypeFloat, Minimum: &min0, Required: true},
				{Name: "date", Type: TypeString, Pattern: `^\d{4}-\d{2}-\d{2}$`},
			},
			Required: []string{"kg"},
		},
		{
			Name:        "order_groceries",
			Description: "Place a delivery order for the current grocery list",
			Category:    CategoryOrdering,
			Version:     "0.9.0",
			Tags:        []string{"shopping", "delivery"},
			// External fulfillment is slower than in-process tools.
			RateLimitPerMinute: 5,
			Parameters: []ParameterSpec{
				{Name: "address_id", Type: TypeString, Required: true},
				{Name: "notes", Type: TypeString},
			},
			Required: []string{"address_id"},
		},
		{
			Name:        "goal_progress",
			Description: "Report progress against the caller's calorie and weight goals",
			Category:    CategoryTracking,
			Version:     "1.0.0",
			Tags:        []string{"report", "goals"},
			Parameters: []ParameterSpec{
				{Name: "period", Type: TypeString, Enum: []any{"week", "month", "quarter"}, Default: "week"},
			},
		},
		{
			Name:        "analyze_trends",
			Description: "Analyze intake and weight trends over time",
			Category:    CategoryAnalysis,
			Version:     "1.3.0",
			Tags:        []string{"report", "insights"},
			Parameters: []ParameterSpec{
				{Name: "metric", Type: TypeString, Enum: []any{"calories", "weight", "macros"}, Required: true},
				{Name: "window_days", Type: TypeInteger, Default: 30, Minimum: &min0},
			},
			Required: []string{"metric"},
		},
	}
}

// RegisterBuiltin loads the stock catalog without handlers.
func RegisterBuiltin(catalog *Catalog) error {
	for _, t := range Builtin() {
		if err := catalog.Register(t, nil); err != nil {
			return err
		}
	}
	return nil
}
