package telemetry

import "strings"

// chaffDomains are high-traffic sites whose lookups blend into ordinary browsing.
var chaffDomains = []string{
	"weather.com", "reddit.com", "stackoverflow.com", "wikipedia.org",
	"amazon.com", "ebay.com", "netflix.com", "spotify.com",
	"linkedin.com", "github.com", "medium.com", "bbc.co.uk",
	"nytimes.com", "washingtonpost.com", "cnn.com", "reuters.com",
	"espn.com", "twitch.tv", "discord.com", "zoom.us",
	"dropbox.com", "notion.so", "figma.com", "canva.com",
	"hulu.com", "disneyplus.com", "target.com", "walmart.com",
	"bestbuy.com", "homedepot.com", "yelp.com", "tripadvisor.com",
	"booking.com", "airbnb.com", "indeed.com", "zillow.com",
	"webmd.com", "mayoclinic.org", "coursera.org", "khanacademy.org",
	"npr.org", "theguardian.com", "apnews.com",
}

// subdomainPrefixes make DNS chaff look like asset and API fetches.
var subdomainPrefixes = []string{
	"www", "api", "cdn", "static", "images", "assets", "m", "app",
	"login", "auth", "accounts", "video", "stream",
}

// phantomDevice is a fake household device whose traffic a decoy can imitate.
type phantomDevice struct {
	Hostname  string
	UserAgent string
	Domains   []string
}

var phantomDevices = []phantomDevice{
	{"Samsung-SmartTV", "Mozilla/5.0 (SMART-TV; LINUX; Tizen 6.5) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/5.0 Chrome/85.0.4183.93 TV Safari/537.36",
		[]string{"samsungcloudsolution.com", "samsungotn.net", "samsungads.com"}},
	{"LGwebOSTV", "Mozilla/5.0 (Web0S; Linux/SmartTV) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/87.0.4280.88 Safari/537.36 WebAppManager",
		[]string{"lgtvsdp.com", "lgappstv.com"}},
	{"PS5-Console", "Mozilla/5.0 (PlayStation; PlayStation 5/4.03) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Safari/605.1.15",
		[]string{"playstation.net", "playstation.com"}},
	{"XboxSeriesX", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; Xbox; Xbox Series X) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36 Edge/44.19041.1023",
		[]string{"xboxlive.com", "xbox.com"}},
	{"amazon-echo", "Mozilla/5.0 (Linux; Android 11; AEOBP) AppleWebKit/537.36 (KHTML, like Gecko) Silk/95.3.6 like Chrome/95.0.4638.74 Safari/537.36",
		[]string{"amazonalexa.com", "device-metrics-us.amazon.com"}},
	{"Google-Nest", "Mozilla/5.0 (Linux; Android 12; Chromecast) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.104 Safari/537.36 CrKey/1.56.500000",
		[]string{"clients3.google.com", "nest.com"}},
	{"iRobot-Roomba", "iRobotSoftware/3.12.8 CFNetwork/1390 Darwin/22.0.0",
		[]string{"irobotapi.com"}},
	{"Ring-Doorbell", "Ring/5.64.0 (Linux; Android 12) okhttp/4.10.0",
		[]string{"ring.com"}},
	{"ecobee-stat", "ecobee/6.10.0 (Linux; Android 11) Dalvik/2.1.0",
		[]string{"ecobee.com"}},
	{"HP-LaserJet", "HP-ChaiServer/3.0",
		[]string{"hpeprint.com", "hp.com"}},
	{"DiskStation", "Mozilla/5.0 (X11; Linux x86_64; DiskStation) nginx",
		[]string{"synology.com", "quickconnect.to"}},
	{"Kindle", "Mozilla/5.0 (X11; U; Linux armv7l like Android; en-us) AppleWebKit/537.36 (KHTML, like Gecko) Silk/95.3.1 Safari/537.36",
		[]string{"kindle.amazon.com"}},
}

func subdomain(prefix, domain string) string {
	if prefix == "" || strings.HasPrefix(domain, prefix+".") {
		return domain
	}
	return prefix + "." + domain
}
