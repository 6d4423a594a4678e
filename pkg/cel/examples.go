package cel

// ItemFilterExamples are expressions accepted by pipeline.item_filter.
var ItemFilterExamples = map[string]string{
	"exclude_drink_category": `item.category != "drink"`,
	"water_only":             `item.category == "water"`,
	"tagged_hydration":       `"hydration" in item.tags`,
	"named_products_only":    `item.name != ""`,
	"single_servings":        `item.quantity <= 1`,
	"combined_conditions":    `item.category != "drink" && !item.name.startsWith("Pop-up")`,
}
