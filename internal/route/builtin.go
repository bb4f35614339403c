package route

// Two fixed itineraries between Boulangerie Ben Ticha and Société EMKA MED.
var (
	trajet1 = []Waypoint{
		{35.6212102, 10.759478, "Départ : Boulangerie Ben Ticha"},
		{35.6301472, 10.7469969, "Arrêt 1 : Carrefour Market Jemmel"},
		{35.6305079, 10.7319542, "Arrêt 2 : معهد أبو القاسم الشابي جمّال"},
		{35.6518278, 10.6935104, "Arrêt 3 : Café Jabnoun"},
		{35.7070496, 10.6750837, "Arrêt 4 : حانوة زياد سعد"},
		{35.7151908, 10.6726028, "Arrivée : Société EMKA MED"},
	}
	trajet2 = []Waypoint{
		{35.6212102, 10.759478, "Départ : Boulangerie Ben Ticha"},
		{35.6332329, 10.7606344, "Arrêt 1 : جامع الامام سحنون"},
		{35.645564, 10.740518, "Arrêt 2 : Ste Ben Jha de ferraille"},
		{35.6576035, 10.7087455, "Arrêt 3 : معصرة التبيني العصرية"},
		{35.7092157, 10.6794182, "Arrêt 4 : مقبرة شهداء الإستعمار"},
		{35.7151908, 10.6726028, "Arrivée : Société EMKA MED"},
	}
)

// Builtin returns the routes shipped with the tracker, keyed by id.
func Builtin() map[string]*Route {
	r1, err := New("trajet-1", "Trajet 1", trajet1)
	if err != nil {
		panic(err)
	}
	r2, err := New("trajet-2", "Trajet 2", trajet2)
	if err != nil {
		panic(err)
	}
	return map[string]*Route{r1.ID: r1, r2.ID: r2}
}
