package corpus

// Merge combines listing stubs with detail records. Stubs are inserted first
// so every discovered link survives; detail records then overwrite by link.
// Output follows first-insertion order of each link.
func Merge(stubs []ListingItem, details []Record) []Record {
	order := make([]string, 0, len(stubs)+len(details))
	byLink := make(map[string]Record, len(stubs)+len(details))

	put := func(rec Record) {
		if rec.Link == "" {
			return
		}
		if _, ok := byLink[rec.Link]; !ok {
			order = append(order, rec.Link)
		}
		byLink[rec.Link] = rec
	}
	for _, item := range stubs {
		put(Stub(item))
	}
	for _, rec := range details {
		put(rec)
	}

	out := make([]Record, 0, len(order))
	for _, link := range order {
		out = append(out, byLink[link])
	}
	return out
}

// DedupListing drops items without a title or link and keeps the first title
// seen for each link, preserving discovery order.
func DedupListing(items []ListingItem) []ListingItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]ListingItem, 0, len(items))
	for _, item := range items {
		if item.Title == "" || item.Link == "" {
			continue
		}
		if _, ok := seen[item.Link]; ok {
			continue
		}
		seen[item.Link] = struct{}{}
		out = append(out, item)
	}
	return out
}
